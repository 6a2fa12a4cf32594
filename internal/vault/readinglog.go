package vault

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const logHeader = "# Reading Log"

var titleEscaper = strings.NewReplacer("|", "-", "[", "(", "]", ")", "\n", " ")

func logEntry(date, citekey, title string) string {
	return fmt.Sprintf("- %s — [[%s|%s]]", date, citekey, titleEscaper.Replace(title))
}

func linkMarker(citekey string) string {
	return "[[" + citekey + "|"
}

// entryDate returns the YYYY-MM-DD date of a log entry line.
func entryDate(line string) (string, bool) {
	if len(line) < 12 || !strings.HasPrefix(line, "- ") {
		return "", false
	}
	d := line[2:12]
	if _, err := time.Parse(time.DateOnly, d); err != nil {
		return "", false
	}
	return d, true
}

// readingLog is the parsed log: free-form header lines then entries.
type readingLog struct {
	header  []string
	entries []string
}

func (v *Vault) loadLog() (*readingLog, error) {
	data, err := readOptional(v.LogPath())
	if err != nil {
		return nil, fmt.Errorf("read reading log: %w", err)
	}
	if data == nil {
		return &readingLog{header: []string{logHeader}}, nil
	}
	l := &readingLog{}
	for _, line := range strings.Split(string(data), "\n") {
		if _, ok := entryDate(line); ok || len(l.entries) > 0 {
			if strings.TrimSpace(line) != "" {
				l.entries = append(l.entries, line)
			}
			continue
		}
		l.header = append(l.header, line)
	}
	return l, nil
}

func (l *readingLog) render() string {
	header := strings.TrimRight(strings.Join(l.header, "\n"), "\n")
	if len(l.entries) == 0 {
		return header + "\n"
	}
	return header + "\n\n" + strings.Join(l.entries, "\n") + "\n"
}

// sortEntries orders entries newest first; equal dates keep their order.
func (l *readingLog) sortEntries() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		di, _ := entryDate(l.entries[i])
		dj, _ := entryDate(l.entries[j])
		return di > dj
	})
}

func (v *Vault) saveLog(l *readingLog) (bool, error) {
	return writeIfChanged(v.LogPath(), []byte(l.render()))
}

// AppendLog records citekey as read on date. An existing entry for the
// citekey is replaced but keeps its original date, so reprocessing does
// not move a paper to the top.
func (v *Vault) AppendLog(citekey, title string, date time.Time) (bool, error) {
	l, err := v.loadLog()
	if err != nil {
		return false, err
	}
	marker := linkMarker(citekey)
	day := date.UTC().Format(time.DateOnly)
	kept := l.entries[:0]
	first := true
	for _, e := range l.entries {
		if strings.Contains(e, marker) {
			if d, ok := entryDate(e); ok && first {
				day = d
				first = false
			}
			continue
		}
		kept = append(kept, e)
	}
	l.entries = append(kept, logEntry(day, citekey, title))
	l.sortEntries()
	return v.saveLog(l)
}

// UpdateLogTitle rewrites the display title of citekey's entry.
func (v *Vault) UpdateLogTitle(citekey, title string) (bool, error) {
	if !exists(v.LogPath()) {
		return false, nil
	}
	l, err := v.loadLog()
	if err != nil {
		return false, err
	}
	marker := linkMarker(citekey)
	for i, e := range l.entries {
		if !strings.Contains(e, marker) {
			continue
		}
		if d, ok := entryDate(e); ok {
			l.entries[i] = logEntry(d, citekey, title)
		}
	}
	return v.saveLog(l)
}

// renameLogLinks points reading-log links at newKey.
func (v *Vault) renameLogLinks(oldKey, newKey string) (bool, error) {
	if !exists(v.LogPath()) {
		return false, nil
	}
	l, err := v.loadLog()
	if err != nil {
		return false, err
	}
	for i, e := range l.entries {
		l.entries[i] = strings.ReplaceAll(e, linkMarker(oldKey), linkMarker(newKey))
	}
	return v.saveLog(l)
}
