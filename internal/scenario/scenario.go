// Package scenario loads simulation inputs: the whitespace-separated
// payload file format and self-contained YAML scenario files.
package scenario

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
)

var (
	// ErrBadLine is returned for a payload line that does not start with
	// two integer ids.
	ErrBadLine = errors.New("scenario: malformed payload line")

	// ErrDataTooLong is returned when payload data exceeds the frame data
	// region.
	ErrDataTooLong = errors.New("scenario: payload data longer than 1500 bytes")

	// ErrBroadcastSource is returned when a payload names a broadcast
	// source id.
	ErrBroadcastSource = errors.New("scenario: source id cannot be of broadcast type")

	// ErrBadScenario wraps YAML scenario validation failures.
	ErrBadScenario = errors.New("scenario: invalid scenario")
)

// LoadPayloadFile reads the payload file format: one payload per line,
// `<src_id> <dst_id> <data...>`, data being the rest of the line with
// leading whitespace trimmed.
func LoadPayloadFile(path string) ([]ether.Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open payload file: %w", err)
	}
	defer f.Close()
	return ParsePayloads(f)
}

// ParsePayloads parses payload lines from r. Blank lines are skipped.
func ParsePayloads(r io.Reader) ([]ether.Payload, error) {
	var payloads []ether.Payload
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		p, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("scenario: line %d: %w", lineNo, err)
		}
		payloads = append(payloads, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scenario: read payload file: %w", err)
	}
	return payloads, nil
}

func parseLine(line string) (ether.Payload, error) {
	srcTok, rest := nextToken(line)
	dstTok, data := nextToken(rest)
	srcID, err := strconv.Atoi(srcTok)
	if err != nil {
		return ether.Payload{}, fmt.Errorf("%w: bad source id %q", ErrBadLine, srcTok)
	}
	dstID, err := strconv.Atoi(dstTok)
	if err != nil {
		return ether.Payload{}, fmt.Errorf("%w: bad destination id %q", ErrBadLine, dstTok)
	}
	data = strings.TrimLeft(data, " \t")
	return makePayload(srcID, dstID, data)
}

// nextToken splits off the first whitespace-delimited token of s.
func nextToken(s string) (tok, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func makePayload(srcID, dstID int, data string) (ether.Payload, error) {
	if srcID < 0 || srcID >= ether.MaxStations {
		return ether.Payload{}, fmt.Errorf("%w (%d)", ErrBroadcastSource, srcID)
	}
	if dstID < 0 {
		return ether.Payload{}, fmt.Errorf("%w: negative destination id %d", ErrBadLine, dstID)
	}
	if len(data) > ether.DataLen {
		return ether.Payload{}, fmt.Errorf("%w (%d)", ErrDataTooLong, len(data))
	}
	return ether.Payload{SrcID: srcID, DstID: dstID, Data: []byte(data)}, nil
}

// Scenario is a self-contained simulation description: station count, an
// optional deterministic seed, pacing, and the payload list.
type Scenario struct {
	Stations    int           `yaml:"stations"`
	Seed        *uint64       `yaml:"seed"`
	TickDelayMS int           `yaml:"tick_delay_ms"`
	Payloads    []PayloadSpec `yaml:"payloads"`
}

// PayloadSpec is one payload entry of a YAML scenario.
type PayloadSpec struct {
	Src  int    `yaml:"src"`
	Dst  int    `yaml:"dst"`
	Data string `yaml:"data"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open scenario file: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadScenario, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Stations <= 0 {
		return fmt.Errorf("%w: stations must be positive", ErrBadScenario)
	}
	if s.Stations > ether.MaxStations {
		return fmt.Errorf("%w: stations must be at most %d", ErrBadScenario, ether.MaxStations)
	}
	if s.TickDelayMS < 0 {
		return fmt.Errorf("%w: tick_delay_ms must be non-negative", ErrBadScenario)
	}
	for i, p := range s.Payloads {
		if _, err := makePayload(p.Src, p.Dst, p.Data); err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
	}
	return nil
}

// EtherPayloads converts the scenario's payload entries.
func (s *Scenario) EtherPayloads() []ether.Payload {
	out := make([]ether.Payload, 0, len(s.Payloads))
	for _, p := range s.Payloads {
		out = append(out, ether.Payload{SrcID: p.Src, DstID: p.Dst, Data: []byte(p.Data)})
	}
	return out
}
