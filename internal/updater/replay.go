package updater

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReplaySource feeds recorded positions at a fixed interval. It backs the
// drive command and doubles as the position source in tests.
type ReplaySource struct {
	positions []Position
	interval  time.Duration
}

func NewReplaySource(positions []Position, interval time.Duration) *ReplaySource {
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplaySource{positions: positions, interval: interval}
}

// ParseRoute reads "lat,lng[,speed[,heading]]" lines. Blank lines and lines
// starting with # are skipped.
func ParseRoute(r io.Reader) ([]Position, error) {
	var out []Position
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected lat,lng", lineNo)
		}
		var p Position
		var err error
		if p.Lat, err = parseField(fields[0]); err != nil {
			return nil, fmt.Errorf("line %d: lat: %w", lineNo, err)
		}
		if p.Lng, err = parseField(fields[1]); err != nil {
			return nil, fmt.Errorf("line %d: lng: %w", lineNo, err)
		}
		if len(fields) > 2 {
			if p.Speed, err = parseField(fields[2]); err != nil {
				return nil, fmt.Errorf("line %d: speed: %w", lineNo, err)
			}
		}
		if len(fields) > 3 {
			if p.Heading, err = parseField(fields[3]); err != nil {
				return nil, fmt.Errorf("line %d: heading: %w", lineNo, err)
			}
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseField(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func (r *ReplaySource) Current(context.Context) (Position, error) {
	if len(r.positions) == 0 {
		return Position{}, errors.New("replay source is empty")
	}
	return r.positions[0], nil
}

func (r *ReplaySource) Watch(fn func(Position)) (func(), error) {
	if len(r.positions) == 0 {
		return nil, errors.New("replay source is empty")
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for _, p := range r.positions {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn(p)
			}
		}
		<-done
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}, nil
}
