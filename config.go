package skytile

import "fmt"

// Config is a map of keyword to arbitrary data used to specify store and
// build settings.  Typed getters return whether the keyword was present and
// an error on a type mismatch, so engines can distinguish "unset" from "bad".
type Config map[string]interface{}

func NewConfig() Config {
	return Config{}
}

func (c Config) Set(key string, value interface{}) {
	c[key] = value
}

func (c Config) SetAll(settings map[string]interface{}) {
	for k, v := range settings {
		c[k] = v
	}
}

// GetAll returns the underlying keyword map.
func (c Config) GetAll() map[string]interface{} {
	return c
}

func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	s, ok := v.(string)
	if !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return
}

func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	switch n := v.(type) {
	case int:
		i = n
	case int64:
		i = int(n)
	case float64:
		i = int(n)
	default:
		err = fmt.Errorf("%q setting must be an int (%v)", key, v)
	}
	return
}

func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	b, ok := v.(bool)
	if !ok {
		err = fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return
}
