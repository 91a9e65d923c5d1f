/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/marcus-qen/robusta/internal/finding"
)

// FileParams configures a file sink. An empty file name writes to stdout.
type FileParams struct {
	BaseParams
	FileName string `json:"file_name,omitempty"`
}

// FileSink appends one JSON document per finding. File attachments are
// left out.
type FileSink struct {
	params FileParams

	mu sync.Mutex
}

func NewFileSink(cfg Config, _ Env) (Sink, error) {
	var p FileParams
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	return &FileSink{params: p}, nil
}

func (s *FileSink) WriteFinding(_ context.Context, f *finding.Finding, _ bool) error {
	for i := range f.Enrichments {
		blocks := f.Enrichments[i].Blocks[:0]
		for _, b := range f.Enrichments[i].Blocks {
			if _, isFile := b.(*finding.FileBlock); !isFile {
				blocks = append(blocks, b)
			}
		}
		f.Enrichments[i].Blocks = blocks
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params.FileName == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	fh, err := os.OpenFile(s.params.FileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.params.FileName, err)
	}
	defer fh.Close()
	if _, err := fh.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", s.params.FileName, err)
	}
	return nil
}

func (s *FileSink) Stop() {}

func init() {
	RegisterType("file_sink", NewFileSink)
}
