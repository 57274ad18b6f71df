package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"scribeflow/internal/models"
	"scribeflow/pkg/logger"
)

// runnerEvent is one line of the decode subprocess's JSONL protocol.
type runnerEvent struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text,omitempty"`
	TStart  float64                `json:"t_start,omitempty"`
	TEnd    float64                `json:"t_end,omitempty"`
	Segment int                    `json:"segment,omitempty"`
	Stage   string                 `json:"stage,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Message string                 `json:"message,omitempty"`

	// terminal result payload
	Language string           `json:"language,omitempty"`
	Duration float64          `json:"duration,omitempty"`
	Segments []runnerSegment  `json:"segments,omitempty"`
	FullText string           `json:"full_text,omitempty"`
}

type runnerSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// runDecode executes the engine subprocess and streams its JSONL output
// into the sink. The final "result" line becomes the Result; an "error"
// line or a non-zero exit becomes an error whose message carries the
// subprocess's own words, so the classifier above can read them.
func runDecode(ctx context.Context, argv []string, sink Sink, register func(*exec.Cmd)) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %s: %w", argv[0], err)
	}
	if register != nil {
		register(cmd)
	}

	var result *Result
	var runnerErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev runnerEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Debug("Skipping unparseable engine output line", "line", line)
			continue
		}
		switch ev.Type {
		case "token":
			if sink != nil {
				sink.OnToken(Token{Text: ev.Text, TStart: ev.TStart, TEnd: ev.TEnd, SegmentIndex: ev.Segment})
			}
		case "event":
			if sink != nil {
				sink.OnEvent(ev.Stage, ev.Fields)
			}
		case "result":
			segments := make(models.SegmentList, 0, len(ev.Segments))
			for _, s := range ev.Segments {
				segments = append(segments, models.Segment{
					Start: s.Start, End: s.End, Speaker: s.Speaker, Text: s.Text,
				})
			}
			result = &Result{
				Text:     ev.FullText,
				Language: ev.Language,
				Duration: ev.Duration,
				Segments: segments,
			}
		case "error":
			runnerErr = fmt.Errorf("engine: %s", ev.Message)
		}
	}

	waitErr := cmd.Wait()
	if runnerErr != nil {
		return nil, runnerErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = waitErr.Error()
		}
		return nil, fmt.Errorf("engine: decode failed: %s", detail)
	}
	if result == nil {
		return nil, fmt.Errorf("engine: decode produced no result")
	}
	result.Runtime = time.Since(start).Seconds()
	return result, nil
}

// formatExtraArgs renders filtered free-form options as --key=value args.
func formatExtraArgs(extra map[string]interface{}) []string {
	if len(extra) == 0 {
		return nil
	}
	out := make([]string, 0, len(extra))
	for key, value := range extra {
		out = append(out, fmt.Sprintf("--opt=%s=%v", key, value))
	}
	return out
}
