package activity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type tally struct {
	today     []byte
	messages  int
	toolCalls int
	sessions  map[string]struct{}
}

func newTally(today string) *tally {
	return &tally{today: []byte(today), sessions: make(map[string]struct{})}
}

// add counts one session log line. Lines that are not valid JSON or not
// from today are ignored.
func (t *tally) add(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.Contains(line, t.today) {
		return
	}
	if !gjson.ValidBytes(line) {
		return
	}

	rec := gjson.ParseBytes(line)
	if !strings.HasPrefix(rec.Get("timestamp").String(), string(t.today)) {
		return
	}

	if sid := rec.Get("sessionId").String(); sid != "" {
		t.sessions[sid] = struct{}{}
	}

	switch rec.Get("type").String() {
	case "user":
		t.messages++
	case "assistant":
		content := rec.Get("message.content")
		if !content.IsArray() {
			return
		}
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_use" {
				t.toolCalls++
			}
			return true
		})
	}
}

func (t *tally) empty() bool {
	return t.messages == 0 && t.toolCalls == 0 && len(t.sessions) == 0
}

func (t *tally) stats() *Stats {
	return &Stats{
		ActivityDate:   string(t.today),
		TodayMessages:  t.messages,
		TodaySessions:  len(t.sessions),
		TodayToolCalls: t.toolCalls,
	}
}

// scan walks the projects directory for *.jsonl files modified today (UTC)
// and tallies their records. Returns nil when nothing was found.
func (a *Aggregator) scan(ctx context.Context, today string) *Stats {
	if a.projectsDir == "" {
		return nil
	}
	if _, err := os.Stat(a.projectsDir); err != nil {
		return nil
	}

	var files []string
	err := filepath.WalkDir(a.projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, the rest of the walk goes on.
			if d != nil && d.IsDir() && path != a.projectsDir {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().UTC().Format(dateLayout) == today {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		a.logger.Debug("session log walk stopped", zap.Error(err))
		return nil
	}

	t := newTally(today)
	for _, path := range files {
		if ctx.Err() != nil {
			return nil
		}
		if err := countFile(path, t); err != nil {
			a.logger.Debug("session log skipped", zap.String("path", path), zap.Error(err))
		}
	}

	a.logger.Debug("scanned session logs",
		zap.Int("files", len(files)),
		zap.Int("messages", t.messages),
		zap.Int("sessions", len(t.sessions)),
		zap.Int("tool_calls", t.toolCalls),
	)

	if t.empty() {
		return nil
	}
	return t.stats()
}

func countFile(path string, t *tally) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			t.add(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
