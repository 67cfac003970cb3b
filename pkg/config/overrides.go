package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ApplyOverrides applies dotted-key overrides (e.g. "research.max_total_tasks")
// to the config. Values are coerced to the declared field type: bools accept
// true/false/1/0, durations accept time.ParseDuration syntax, string slices
// accept comma-separated values. An invalid path or uncoercible value is an
// error.
func ApplyOverrides(cfg *Config, overrides map[string]string) error {
	for key, value := range overrides {
		if err := applyOverride(cfg, key, value); err != nil {
			return fmt.Errorf("invalid override %s=%s: %w", key, value, err)
		}
	}
	return nil
}

func applyOverride(cfg *Config, key, value string) error {
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLTag(v, part)
		if !ok {
			return fmt.Errorf("unknown key segment %q", part)
		}
		if i == len(parts)-1 {
			return setField(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%q is not a section", part)
		}
		v = field
	}
	return fmt.Errorf("empty key")
}

// fieldByYAMLTag resolves a struct field by its yaml tag name.
func fieldByYAMLTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		if idx := strings.IndexByte(tag, ','); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	// time.Duration before the generic int64 case.
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("expected duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("expected integer: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("expected float: %w", err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected boolean, got %q", value)
}

// ParseOverrideArgs converts "key=value" strings (CLI form) into a map.
func ParseOverrideArgs(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		idx := strings.IndexByte(arg, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("override %q is not of the form key=value", arg)
		}
		out[arg[:idx]] = arg[idx+1:]
	}
	return out, nil
}
