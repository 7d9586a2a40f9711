package openai

import (
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

// ── client events ────────────────────────────────────────────────────────────

// clientEvent is any event the client sends. Only the fields of its Type
// are set.
type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	Item    *outputItem    `json:"item,omitempty"`
}

type sessionConfig struct {
	Modalities        []string       `json:"modalities"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Tools             []functionTool `json:"tools,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	Transcription     *named         `json:"input_audio_transcription,omitempty"`

	// nil is sent as null, which disables server VAD.
	TurnDetection *named `json:"turn_detection"`
}

// named is the {"type": ...} or {"model": ...} shape several fields share.
type named struct {
	Type  string `json:"type,omitempty"`
	Model string `json:"model,omitempty"`
}

type functionTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type outputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func configure(cfg s2s.SessionConfig) clientEvent {
	sc := &sessionConfig{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		Tools:             functionTools(cfg.Tools),
		Temperature:       cfg.Temperature,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.ServerVAD {
		sc.TurnDetection = &named{Type: "server_vad"}
	}
	if cfg.TranscriptionModel != "" {
		sc.Transcription = &named{Model: cfg.TranscriptionModel}
	}
	return clientEvent{Type: "session.update", Session: sc}
}

func functionTools(defs []llm.ToolDefinition) []functionTool {
	var out []functionTool
	for _, d := range defs {
		out = append(out, functionTool{Type: "function", Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func toolOutput(callID, output string) clientEvent {
	return clientEvent{
		Type: "conversation.item.create",
		Item: &outputItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// ── server events ────────────────────────────────────────────────────────────

// serverEvent is the union of the server events a session reacts to.
type serverEvent struct {
	Type string `json:"type"`

	// audio and transcript deltas
	Delta string `json:"delta"`

	// input transcription
	Transcript string `json:"transcript"`

	// completed function call
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
