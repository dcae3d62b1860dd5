package openrouter

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	maxLineBytes = 1 << 20
)

// readEvents scans an SSE body and calls emit for every non-empty
// choices[0].delta.content. onLine runs for every line read, including
// keep-alives and ignored lines. It returns the number of emitted fragments.
func readEvents(r io.Reader, emit func(string) error, onLine func(), log zerolog.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	n := 0
	for scanner.Scan() {
		if onLine != nil {
			onLine()
		}
		payload, ok := strings.CutPrefix(scanner.Text(), dataPrefix)
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == doneSentinel {
			return n, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Debug().Err(err).Msg("skipping malformed stream line")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		if err := emit(text); err != nil {
			return n, err
		}
		n++
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return n, domain.NewError(domain.KindDecode, "openrouter.stream", "stream line exceeds 1 MiB", err)
	}
	// A body that ends without [DONE] is treated as a normal end.
	return n, err
}
