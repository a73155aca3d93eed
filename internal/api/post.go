package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/hubconn/internal/model"
)

// Post sends env and returns the reply's payload attributes. Error
// envelopes, whatever their HTTP status, come back as *model.ProtocolError.
func (c *Client) Post(ctx context.Context, env model.Envelope) (model.Attributes, error) {
	messageType := env.Payload.MessageType
	if messageType == "" {
		messageType = env.Type
	}
	path := pathFor(messageType)

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	c.logger.Debug("fallback request", "type", messageType, "path", path)

	body, err := c.doWithRetry(ctx, http.MethodPost, path, data)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if reply, ok := decodeEnvelope(apiErr.Body); ok {
				return nil, model.NewProtocolError(reply.Payload.Attributes)
			}
		}
		return nil, err
	}

	reply, ok := decodeEnvelope(body)
	if !ok {
		return nil, errors.New("unmarshal response: not a platform envelope")
	}
	if reply.Type == model.TypeError {
		return nil, model.NewProtocolError(reply.Payload.Attributes)
	}

	attrs := reply.Payload.Attributes
	if attrs == nil {
		attrs = model.Attributes{}
	}
	return attrs, nil
}

// pathFor maps "sess:SetActivePlace" to "/sess/SetActivePlace".
func pathFor(messageType string) string {
	namespace, verb := model.SplitType(messageType)
	if namespace == "" {
		return "/" + verb
	}
	return "/" + namespace + "/" + verb
}

func decodeEnvelope(body []byte) (model.Envelope, bool) {
	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Envelope{}, false
	}
	if env.Type == "" && env.Payload.MessageType == "" {
		return model.Envelope{}, false
	}
	return env, true
}
