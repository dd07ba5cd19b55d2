package feed

import (
	"bufio"
	"context"
	"os"

	"go.uber.org/zap"
)

const maxLineBytes = 4 << 20

// FileSource replays a JSONL file. Undecodable lines are logged and skipped.
type FileSource struct {
	path string
	log  *zap.Logger
}

func NewFileSource(path string, log *zap.Logger) *FileSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileSource{path: path, log: log}
}

func (s *FileSource) Run(ctx context.Context, handler func(Event)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		ev, err := Decode(raw)
		if err != nil {
			s.log.Warn("skipping feed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		handler(ev)
	}
	return sc.Err()
}
