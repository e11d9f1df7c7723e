package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medwatch/medwatch/internal/domain"
)

// hostsFile is the YAML shape of the media-host list:
//
//	hosts:
//	  - url: ws://kms-1.internal:8888/media
//	    address: 10.0.0.11:8888
type hostsFile struct {
	Hosts []domain.Endpoint `yaml:"hosts"`
}

// LoadHosts reads and parses the media-host list.
// The order of the file is preserved; duplicate (url, address) pairs are
// rejected because the registry holds at most one entry per pair.
func LoadHosts(path string) ([]domain.Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	var f hostsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse hosts yaml: %w", err)
	}

	if len(f.Hosts) == 0 {
		return nil, fmt.Errorf("hosts file %s lists no hosts", path)
	}

	seen := make(map[domain.Endpoint]struct{}, len(f.Hosts))
	for i, ep := range f.Hosts {
		if ep.URL == "" {
			return nil, fmt.Errorf("host %d: missing url", i)
		}
		if ep.Address == "" {
			return nil, fmt.Errorf("host %d (%s): missing address", i, ep.URL)
		}
		if _, dup := seen[ep]; dup {
			return nil, fmt.Errorf("host %d: duplicate entry %s %s", i, ep.URL, ep.Address)
		}
		seen[ep] = struct{}{}
	}

	return f.Hosts, nil
}
