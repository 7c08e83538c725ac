package model

import (
	"encoding/json"
	"math"

	appErr "judgehub/pkg/errors"
)

// Message is a decoded worker frame. The concrete type is one of the
// *Message types in this file.
type Message interface {
	Key() string
}

// NextMessage carries a partial result.
type NextMessage struct{ Result JudgeResult }

// EndMessage carries the terminal result of a task.
type EndMessage struct{ Result JudgeResult }

// StatusMessage is a daemon health report.
type StatusMessage struct{ Info json.RawMessage }

// PrioMessage sets the session's priority floor.
type PrioMessage struct{ Floor int }

// LangMessage restricts the session to the listed languages.
type LangMessage struct{ Langs []string }

// ConfigMessage updates the priority floor and/or the concurrency.
type ConfigMessage struct {
	Prio        *int
	Concurrency *int
}

// PingMessage is a keepalive.
type PingMessage struct{}

func (NextMessage) Key() string   { return "next" }
func (EndMessage) Key() string    { return "end" }
func (StatusMessage) Key() string { return "status" }
func (PrioMessage) Key() string   { return "prio" }
func (LangMessage) Key() string   { return "lang" }
func (ConfigMessage) Key() string { return "config" }
func (PingMessage) Key() string   { return "ping" }

const maxSafeInteger = 1<<53 - 1

type envelope struct {
	Key         string          `json:"key"`
	Info        json.RawMessage `json:"info"`
	Prio        json.RawMessage `json:"prio"`
	Lang        json.RawMessage `json:"lang"`
	Concurrency json.RawMessage `json:"concurrency"`
}

// DecodeMessage parses one worker frame. Unknown keys and prio/lang/config
// frames with wrongly typed fields yield a nil Message and no error; only
// unparsable JSON and malformed result bodies are errors.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, appErr.Wrap(err, appErr.InvalidJudgeMessage)
	}

	switch env.Key {
	case "next", "end":
		var result JudgeResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidJudgeMessage, "invalid %s body", env.Key)
		}
		if env.Key == "next" {
			return NextMessage{Result: result}, nil
		}
		return EndMessage{Result: result}, nil
	case "status":
		return StatusMessage{Info: env.Info}, nil
	case "ping":
		return PingMessage{}, nil
	case "prio":
		n, ok := number(env.Prio)
		if !ok {
			return nil, nil
		}
		return PrioMessage{Floor: int(math.Floor(n))}, nil
	case "lang":
		var langs []string
		if len(env.Lang) == 0 || json.Unmarshal(env.Lang, &langs) != nil || langs == nil {
			return nil, nil
		}
		return LangMessage{Langs: langs}, nil
	case "config":
		msg := ConfigMessage{}
		if prio, ok := safeInteger(env.Prio); ok {
			msg.Prio = &prio
		}
		if c, ok := safeInteger(env.Concurrency); ok && c > 0 {
			msg.Concurrency = &c
		}
		return msg, nil
	}
	return nil, nil
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func safeInteger(raw json.RawMessage) (int, bool) {
	n, ok := number(raw)
	if !ok || n != math.Trunc(n) || math.Abs(n) > maxSafeInteger {
		return 0, false
	}
	return int(n), true
}
