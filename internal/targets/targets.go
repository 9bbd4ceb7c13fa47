// Package targets loads the ranked domain lists a scan runs over.
package targets

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/config"
)

// ReadDomains reads one domain per line. A line may also be a Tranco CSV
// record "rank,domain", in which case only the domain is kept; ranks always
// follow line order. Blank lines and lines starting with '#' are skipped.
// A positive limit stops after that many domains.
func ReadDomains(r io.Reader, limit int) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.LastIndexByte(line, ','); i >= 0 {
			line = strings.TrimSpace(line[i+1:])
		}
		if line == "" {
			continue
		}
		domains = append(domains, strings.ToLower(line))
		if limit > 0 && len(domains) == limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read domains: %w", err)
	}
	return domains, nil
}

// LoadDomains reads the domain list at path.
func LoadDomains(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain list: %w", err)
	}
	defer f.Close()
	return ReadDomains(f, limit)
}

// Window ranks domains from 1 in list order and returns the targets whose
// rank lies in [start, end], both inclusive. An end of -1 means the end of
// the list.
func Window(domains []string, start, end int) []schemas.Target {
	out := make([]schemas.Target, 0, len(domains))
	for i, d := range domains {
		rank := i + 1
		if rank < start || (end != -1 && rank > end) {
			continue
		}
		out = append(out, schemas.NewTarget(rank, d))
	}
	return out
}

// Load returns the targets selected by cfg.
func Load(cfg config.DatasetConfig) ([]schemas.Target, error) {
	var (
		domains []string
		err     error
	)
	switch cfg.Name {
	case config.DatasetTop:
		domains, err = LoadDomains(cfg.TopList, cfg.TopCount)
	case config.DatasetSampled:
		domains, err = LoadDomains(cfg.SampledList, 0)
	default:
		return nil, fmt.Errorf("unknown dataset %q", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return Window(domains, cfg.Start, cfg.End), nil
}

// Sample picks n distinct entries of domains uniformly at random, in random
// order. It returns all domains shuffled when n exceeds their number.
func Sample(domains []string, n int, rng *rand.Rand) []string {
	pool := append([]string(nil), domains...)
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// WriteDomains writes one domain per line.
func WriteDomains(w io.Writer, domains []string) error {
	bw := bufio.NewWriter(w)
	for _, d := range domains {
		if _, err := bw.WriteString(d + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
