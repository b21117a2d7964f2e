package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/batteries/internal/model"
)

// loadType loads the types directory and returns the named type.
func loadType(opts *RootOptions, name string) (*model.Type, error) {
	result, errs := LoadTypes(opts.TypesDir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	registry, err := result.Registry()
	if err != nil {
		return nil, err
	}
	typ, ok := registry.Lookup(name)
	if !ok {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("record type %q not defined in %s", name, opts.TypesDir)}
	}
	return typ, nil
}

// parseAssignments turns name=value flags into attribute values, parsing
// the text according to the attribute's declared kind. Kinds the model
// coerces from strings (int, time, date, decimal, file, geometries) pass
// through unchanged.
func parseAssignments(typ *model.Type, pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, &LoadError{Code: ErrCodeBadInput, Message: fmt.Sprintf("malformed assignment %q, want name=value", pair)}
		}
		attr, declared := typ.Attribute(name)
		if !declared {
			return nil, model.NewConfigurationError(typ.Name, name, "attribute is not declared")
		}
		v, err := parseValue(attr, raw)
		if err != nil {
			return nil, model.NewInvalidValueError(typ.Name, name, attr.Kind, raw, err)
		}
		out[name] = v
	}
	return out, nil
}

func parseValue(a model.Attribute, raw string) (any, error) {
	switch a.Kind {
	case model.KindFloat:
		return strconv.ParseFloat(raw, 64)
	case model.KindBool:
		return strconv.ParseBool(raw)
	case model.KindSet:
		if raw == "" {
			return model.NewSet(), nil
		}
		return model.NewSet(strings.Split(raw, ",")...), nil
	case model.KindJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return raw, nil
	}
}

// parseLogFlag parses "level:qualifier:message". The level may be omitted,
// in which case it defaults to info.
func parseLogFlag(s string) (model.LogLevel, string, string, error) {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 3:
		level := model.LogLevel(strings.ToLower(parts[0]))
		if !level.Valid() {
			return "", "", "", &LoadError{Code: ErrCodeBadInput, Message: fmt.Sprintf("unknown log level %q", parts[0])}
		}
		return level, parts[1], parts[2], nil
	case 2:
		return model.LevelInfo, parts[0], parts[1], nil
	default:
		return "", "", "", &LoadError{Code: ErrCodeBadInput, Message: fmt.Sprintf("malformed log %q, want [level:]qualifier:message", s)}
	}
}
