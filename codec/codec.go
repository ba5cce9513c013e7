// Package codec serializes handler parameters and reply values to the
// self-describing JSON wire format, the same encoding every bus
// implementation in the teacher repo already uses for message bodies.
package codec

import "encoding/json"

// Encode serializes v to its JSON wire representation. Encode(nil) is
// valid and yields the literal `null`.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes data into target. Fields absent from data retain
// target's zero/default values, per encoding/json's own semantics.
func Decode(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
