package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a loosely typed configuration, as read from JSON or YAML.
type AttributeMap map[string]interface{}

// DecodeAttributes converts attrs into a T by matching keys against its json tags.
// Keys that match no field are an error.
func DecodeAttributes[T any](attrs AttributeMap) (T, error) {
	var conf T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &conf,
		ErrorUnused: true,
	})
	if err != nil {
		return conf, err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return conf, errors.Wrap(err, "cannot decode attributes")
	}
	return conf, nil
}
