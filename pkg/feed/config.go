package feed

import (
	"fmt"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/wattwindow/pkg/common"
)

// Configured sets up the source chain from flags: NYISO day-ahead, then
// NYISO real-time, then the simulated curve unless disabled.
func Configured() *Adapter {
	a := &Adapter{}
	baseURL := lflag.String("nyiso-base-url", "http://mis.nyiso.com/public/csv", "Base URL for NYISO public CSV files")
	timeout := lflag.Duration("feed-timeout", 30*time.Second, "Timeout for each upstream price feed request")
	simulate := lflag.Bool("simulate-fallback", true, "Synthesize a simulated price curve when every real source fails")

	lflag.Do(func() {
		if _, err := url.Parse(*baseURL); err != nil {
			panic(fmt.Sprintf("invalid nyiso-base-url (%s): %v", *baseURL, err))
		}
		client := common.HTTPClient(*timeout)
		a.sources = []Source{
			NewNYISODayAhead(*baseURL, client),
			NewNYISORealTime(*baseURL, client),
		}
		if *simulate {
			a.sources = append(a.sources, NewSimulated(nil))
		}
	})

	return a
}
