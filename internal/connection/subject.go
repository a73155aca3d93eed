package connection

import "strings"

// Subject is the entity that originated an inbound frame.
type Subject struct {
	ID        string
	Namespace string
	Address   string
}

// Generic namespaces that several concrete ones collapse to.
const (
	NamespaceHub = "hub"
	NamespaceSub = "sub"
)

// ParseSubject derives the subject from a source address of the form
// "<prefix>:<namespace>:<id>". Hub addresses ("SERV:<hubId>:hub") map to
// the hub namespace; subsystem namespaces ("sub*", "cellbackup") collapse
// to "sub". ok is false when the address has no namespace.
func ParseSubject(address string) (s Subject, ok bool) {
	parts := strings.SplitN(address, ":", 3)
	if len(parts) < 2 {
		return Subject{}, false
	}

	namespace, id := parts[1], ""
	if len(parts) == 3 {
		id = parts[2]
	}

	if parts[0] == "SERV" && id == NamespaceHub {
		namespace, id = NamespaceHub, parts[1]
	}
	if namespace == "" {
		return Subject{}, false
	}
	if strings.HasPrefix(namespace, NamespaceSub) || namespace == "cellbackup" {
		namespace = NamespaceSub
	}

	return Subject{ID: id, Namespace: namespace, Address: address}, true
}

// keyFor returns the event key for a frame type from the given subject.
func keyFor(s Subject, ok bool, eventType string) EventKey {
	if !ok {
		return EventKey{Type: eventType}
	}
	return EventKey{Namespace: s.Namespace, Type: eventType}
}
