package progress

import "io"

// Reader wraps an io.Reader and reports transfer progress via a callback.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     func(transferred int64, total int64)
	totalRead      int64 // cumulative total
	sinceReport    int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewReader(r io.Reader, total int64, interval int64, cb func(transferred int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)

		if pr.sinceReport >= pr.reportInterval {
			pr.OnProgress(pr.totalRead, pr.Total)
			pr.sinceReport = 0
		}
	}

	// Final report so observers always see the complete byte count.
	if err == io.EOF && pr.sinceReport > 0 {
		pr.OnProgress(pr.totalRead, pr.Total)
		pr.sinceReport = 0
	}

	return n, err
}
