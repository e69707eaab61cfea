// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"encoding/json"
	"fmt"
)

type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	ContentType() string
}

type JSONSerializer struct{}

func (j JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (j JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (j JSONSerializer) ContentType() string {
	return "application/json"
}

// Codec turns events into frames and back. The envelope is always JSON; the
// serializer is used for the payload it carries.
type Codec struct {
	serializer Serializer
}

func NewCodec(s Serializer) *Codec {
	if s == nil {
		s = JSONSerializer{}
	}
	return &Codec{serializer: s}
}

// Encode builds an outbound frame for event carrying payload.
func (c *Codec) Encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := c.serializer.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses an inbound frame into its envelope.
func (c *Codec) Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, newInvalidPayloadError("envelope", err)
	}
	if env.Event == "" {
		return Envelope{}, newMissingFieldError("envelope", "event")
	}
	return env, nil
}

// DecodePayload unmarshals env.Data into v. A missing data field leaves v untouched.
func (c *Codec) DecodePayload(env Envelope, v interface{}) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := c.serializer.Unmarshal(env.Data, v); err != nil {
		return newInvalidPayloadError(env.Event, err)
	}
	return nil
}
