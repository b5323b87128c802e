/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package irrigation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/wateringd/internal/scheduling"
)

// Document is the YAML form of the schedule store.
type Document struct {
	Version int       `yaml:"version"`
	Lines   []LineDoc `yaml:"lines"`
}

// LineDoc is one line and its windows.
type LineDoc struct {
	Name      string      `yaml:"name"`
	Channel   int         `yaml:"channel"`
	Schedules []WindowDoc `yaml:"schedules,omitempty"`
}

// WindowDoc is one window.
type WindowDoc struct {
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Weekdays []string `yaml:"weekdays,flow"`
}

const documentVersion = 1

// Export writes every line and window as YAML.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	lines, err := s.lines.List(ctx)
	if err != nil {
		return err
	}
	windows, err := s.lines.ListWindows(ctx)
	if err != nil {
		return err
	}

	byLine := make(map[uint][]WindowDoc)
	for _, win := range windows {
		byLine[win.LineID] = append(byLine[win.LineID], WindowDoc{Start: win.Start, End: win.End, Weekdays: win.Weekdays})
	}

	doc := Document{Version: documentVersion}
	for _, l := range lines {
		doc.Lines = append(doc.Lines, LineDoc{Name: l.Name, Channel: l.Channel, Schedules: byLine[l.ID]})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode schedule document: %w", err)
	}
	return enc.Close()
}

// ImportResult reports what an import did.
type ImportResult struct {
	LinesCreated   int      `json:"lines_created"`
	LinesReused    int      `json:"lines_reused"`
	WindowsCreated int      `json:"windows_created"`
	Rejected       []string `json:"rejected,omitempty"`
}

// Import reads a YAML document and applies it through the same checks as the
// API. With replace the store is reset first. Lines already present on the
// same channel are reused; windows that fail validation are reported and
// skipped.
func (s *Service) Import(ctx context.Context, r io.Reader, replace bool) (*ImportResult, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode schedule document: %v", scheduling.ErrInvalidInput, err)
	}
	if doc.Version != 0 && doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported document version %d", scheduling.ErrInvalidInput, doc.Version)
	}

	if replace {
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
	}

	res := &ImportResult{}
	for _, ld := range doc.Lines {
		lineID, created, err := s.importLine(ctx, ld)
		if err != nil {
			res.Rejected = append(res.Rejected, fmt.Sprintf("line %q (channel %d): %v", ld.Name, ld.Channel, err))
			continue
		}
		if created {
			res.LinesCreated++
		} else {
			res.LinesReused++
		}

		for _, wd := range ld.Schedules {
			_, err := s.validator.CheckAndInsert(ctx, scheduling.WindowInput{
				LineID:   lineID,
				Start:    wd.Start,
				End:      wd.End,
				Weekdays: wd.Weekdays,
			})
			if err != nil {
				res.Rejected = append(res.Rejected, fmt.Sprintf("%s %s-%s %v: %v", ld.Name, wd.Start, wd.End, wd.Weekdays, err))
				continue
			}
			res.WindowsCreated++
		}
	}

	s.reload(ctx)
	s.logger.Info().
		Int("lines_created", res.LinesCreated).
		Int("windows_created", res.WindowsCreated).
		Int("rejected", len(res.Rejected)).
		Msg("schedule document imported")
	return res, nil
}

func (s *Service) importLine(ctx context.Context, ld LineDoc) (uint, bool, error) {
	existing, err := s.lines.GetByChannel(ctx, ld.Channel)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, scheduling.ErrNotFound) {
		return 0, false, err
	}
	line, err := s.CreateLine(ctx, scheduling.LineInput{Name: ld.Name, Channel: ld.Channel})
	if err != nil {
		return 0, false, err
	}
	return line.ID, true, nil
}
