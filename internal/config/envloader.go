package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overrides config values from environment variables.
// The `env` struct tag names the variable to read; nested structs are
// walked recursively and unset variables leave the field untouched.
func LoadFromEnv(cfg any) error {
	return loadFromEnv(reflect.ValueOf(cfg), os.LookupEnv)
}

func loadFromEnv(v reflect.Value, lookup func(string) (string, bool)) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadFromEnv(field, lookup); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := lookup(envTag)
		if !ok || strings.TrimSpace(envValue) == "" {
			continue
		}

		if err := setFieldValue(field, strings.TrimSpace(envValue)); err != nil {
			return fmt.Errorf("invalid value for %s (%s): %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))

	default:
		return fmt.Errorf("unsupported type %s", field.Kind())
	}

	return nil
}
