package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/cybergrid/hud-relay/internal/model"
)

// Payload members the store understands, spelled exactly as on the wire.
// Frames are rebroadcast verbatim, so a member is only accepted when a
// case-sensitive reader would see the same field the store applies.
var (
	stateFields  = append([]string{"mode"}, model.ToggleKeys...)
	logFields    = []string{"id", "timestamp", "level", "message"}
	focusFields  = []string{"type", "title", "content"}
	tickerFields = []string{"short_key", "label"}
)

// ParseFrame classifies and validates one inbound frame. A "command"
// discriminator takes precedence over "type". Member names are matched
// exactly.
func ParseFrame(data []byte) (Frame, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	if env.Command != "" {
		switch Command(env.Command) {
		case CommandToggle:
			return parseToggle(env)
		case CommandHealthUpdate:
			return parseHealthUpdate(env)
		default:
			return nil, fmt.Errorf("%w: unknown command %q", ErrMalformedFrame, env.Command)
		}
	}

	switch MessageType(env.Type) {
	case TypeMetrics:
		members, err := dataObject(env)
		if err != nil {
			return nil, err
		}
		if err := checkMembers("metrics", members, nil, false); err != nil {
			return nil, err
		}
		var m model.Metrics
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return MetricsUpdate{Metrics: m}, nil

	case TypeState:
		members, err := dataObject(env)
		if err != nil {
			return nil, err
		}
		if err := checkMembers("state", members, stateFields, true); err != nil {
			return nil, err
		}
		var p model.StatePatch
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		return StateUpdate{Patch: p}, nil

	case TypeLog:
		members, err := dataObject(env)
		if err != nil {
			return nil, err
		}
		if err := checkMembers("log", members, logFields, false); err != nil {
			return nil, err
		}
		var e model.LogEntry
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		return LogUpdate{Entry: e}, nil

	case TypeFocus:
		members, err := dataObject(env)
		if err != nil {
			return nil, err
		}
		if err := checkMembers("focus", members, focusFields, false); err != nil {
			return nil, err
		}
		var f model.FocusContent
		if err := decodeData(env, &f); err != nil {
			return nil, err
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		return FocusUpdate{Focus: f}, nil

	case TypeTicker:
		var raws []json.RawMessage
		if err := decodeData(env, &raws); err != nil {
			return nil, err
		}
		items := make([]model.TickerItem, 0, len(raws))
		for i, raw := range raws {
			var members map[string]json.RawMessage
			if err := json.Unmarshal(raw, &members); err != nil {
				return nil, fmt.Errorf("%w: ticker[%d]: %v", ErrMalformedFrame, i, err)
			}
			if members == nil {
				return nil, fmt.Errorf("%w: ticker[%d] is null", ErrInvalidField, i)
			}
			if err := checkMembers(fmt.Sprintf("ticker[%d]", i), members, tickerFields, false); err != nil {
				return nil, err
			}
			var it model.TickerItem
			if err := json.Unmarshal(raw, &it); err != nil {
				return nil, fmt.Errorf("%w: ticker[%d]: %v", ErrMalformedFrame, i, err)
			}
			if err := it.Validate(); err != nil {
				return nil, fmt.Errorf("%w: ticker[%d]: %v", ErrInvalidField, i, err)
			}
			items = append(items, it)
		}
		return TickerUpdate{Items: items}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type or command", ErrMalformedFrame)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}

// decodeEnvelope splits a frame into its top-level members by exact name.
// Members such as "TYPE" or "Data" are not discriminators.
func decodeEnvelope(data []byte) (envelope, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if members == nil {
		return envelope{}, fmt.Errorf("%w: frame is null", ErrMalformedFrame)
	}

	var env envelope
	var err error
	if env.Type, err = stringMember(members, "type"); err != nil {
		return envelope{}, err
	}
	if env.Command, err = stringMember(members, "command"); err != nil {
		return envelope{}, err
	}
	env.Data = members["data"]
	env.Key = members["key"]
	env.Value = members["value"]
	env.Level = members["level"]
	return env, nil
}

// stringMember returns the named member as a string, or "" when it is absent.
func stringMember(members map[string]json.RawMessage, name string) (string, error) {
	raw, ok := members[name]
	if !ok {
		return "", nil
	}
	var s string
	if isAbsent(raw) || json.Unmarshal(raw, &s) != nil {
		return "", fmt.Errorf("%w: %q is %s, want a string", ErrMalformedFrame, name, raw)
	}
	return s, nil
}

// dataObject requires "data" to be a JSON object and returns its members.
func dataObject(env envelope) (map[string]json.RawMessage, error) {
	if isAbsent(env.Data) {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedFrame, env.Type)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &members); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, env.Type, err)
	}
	return members, nil
}

// checkMembers rejects null members and members whose name matches a known
// field only when compared without case. With closed set, any member
// outside known is rejected as well.
func checkMembers(what string, members map[string]json.RawMessage, known []string, closed bool) error {
	for name, raw := range members {
		if isAbsent(raw) {
			return fmt.Errorf("%w: %s.%s is null", ErrInvalidField, what, name)
		}
		if slices.Contains(known, name) {
			continue
		}
		if closed {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, what, name)
		}
		for _, k := range known {
			if strings.EqualFold(k, name) {
				return fmt.Errorf("%w: %s.%s, want %q", ErrInvalidField, what, name, k)
			}
		}
	}
	return nil
}

// decodeData requires a non-null "data" member and decodes it into v.
func decodeData(env envelope, v any) error {
	if isAbsent(env.Data) {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}

func parseToggle(env envelope) (Frame, error) {
	var key string
	if isAbsent(env.Key) || json.Unmarshal(env.Key, &key) != nil || key == "" {
		return nil, fmt.Errorf("%w: toggle without key", ErrMalformedFrame)
	}
	if !model.IsToggleKey(key) {
		return nil, fmt.Errorf("%w: toggle key %q", ErrInvalidField, key)
	}

	var value bool
	if isAbsent(env.Value) || json.Unmarshal(env.Value, &value) != nil {
		return nil, fmt.Errorf("%w: toggle %s value %s is not a boolean", ErrInvalidField, key, env.Value)
	}
	return ToggleCommand{Key: key, Value: value}, nil
}

func parseHealthUpdate(env envelope) (Frame, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("%w: health_update without type", ErrMalformedFrame)
	}
	var level float64
	if isAbsent(env.Level) || json.Unmarshal(env.Level, &level) != nil {
		return nil, fmt.Errorf("%w: health_update level %s", ErrMalformedFrame, env.Level)
	}
	return HealthUpdateCommand{Metric: env.Type, Level: level}, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
