package report

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"time"
)

// AppendCSV appends line to the report history at path. Nothing is written
// when the last line already carries today's date, and the file starts over
// on the first day of the year.
func AppendCSV(path, line string, now time.Time) (bool, error) {
	now = now.UTC()
	last, err := lastLine(path)
	if err != nil {
		return false, err
	}
	if strings.Contains(last, now.Format(time.DateOnly)) {
		return false, nil
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if now.YearDay() == 1 {
		flag = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return false, err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}

func lastLine(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			last = line
		}
	}
	return last, sc.Err()
}
