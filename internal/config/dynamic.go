package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Dynamic is the subset of configuration that can change at runtime.
// It is what GET/PUT /v1/node/config exchange and what a config revision
// stores.
type Dynamic struct {
	ACLMode    acl.Mode         `json:"acl_mode"`
	PreferLink bool             `json:"prefer_link"`
	Retention  DynamicRetention `json:"retention"`
}

// DynamicRetention holds retention ages as Go duration strings ("24h").
type DynamicRetention struct {
	Jobs      string `json:"jobs"`
	Cache     string `json:"cache"`
	Transfers string `json:"transfers"`
}

// DynamicPatch is a partial update; nil fields are left unchanged.
type DynamicPatch struct {
	ACLMode    *string                `json:"acl_mode,omitempty"`
	PreferLink *bool                  `json:"prefer_link,omitempty"`
	Retention  *DynamicRetentionPatch `json:"retention,omitempty"`
}

type DynamicRetentionPatch struct {
	Jobs      *string `json:"jobs,omitempty"`
	Cache     *string `json:"cache,omitempty"`
	Transfers *string `json:"transfers,omitempty"`
}

// Dynamic extracts the runtime-mutable subset.
func (c *Config) Dynamic() Dynamic {
	return Dynamic{
		ACLMode:    c.ACL.Mode,
		PreferLink: c.Mesh.PreferLink,
		Retention: DynamicRetention{
			Jobs:      c.Retention.Jobs.String(),
			Cache:     c.Retention.Cache.String(),
			Transfers: c.Retention.Transfers.String(),
		},
	}
}

// Apply validates p against c and returns the updated copy. c is not modified.
func (c Config) Apply(p DynamicPatch) (Config, error) {
	if p.ACLMode != nil {
		mode, err := acl.ParseMode(*p.ACLMode)
		if err != nil {
			return c, err
		}
		c.ACL.Mode = mode
	}
	if p.PreferLink != nil {
		c.Mesh.PreferLink = *p.PreferLink
	}
	if r := p.Retention; r != nil {
		for _, f := range []struct {
			name  string
			value *string
			dst   *time.Duration
		}{
			{"retention.jobs", r.Jobs, &c.Retention.Jobs},
			{"retention.cache", r.Cache, &c.Retention.Cache},
			{"retention.transfers", r.Transfers, &c.Retention.Transfers},
		} {
			if f.value == nil {
				continue
			}
			d, err := parseRetention(f.name, *f.value)
			if err != nil {
				return c, err
			}
			*f.dst = d
		}
	}
	return c, nil
}

// Apply validates p against d and returns the updated copy.
func (d Dynamic) Apply(p DynamicPatch) (Dynamic, error) {
	if p.ACLMode != nil {
		mode, err := acl.ParseMode(*p.ACLMode)
		if err != nil {
			return d, err
		}
		d.ACLMode = mode
	}
	if p.PreferLink != nil {
		d.PreferLink = *p.PreferLink
	}
	if r := p.Retention; r != nil {
		for _, f := range []struct {
			name  string
			value *string
			dst   *string
		}{
			{"retention.jobs", r.Jobs, &d.Retention.Jobs},
			{"retention.cache", r.Cache, &d.Retention.Cache},
			{"retention.transfers", r.Transfers, &d.Retention.Transfers},
		} {
			if f.value == nil {
				continue
			}
			if _, err := parseRetention(f.name, *f.value); err != nil {
				return d, err
			}
			*f.dst = *f.value
		}
	}
	return d, nil
}

// RetentionPolicy parses the retention ages.
func (d Dynamic) RetentionPolicy() (storepkg.RetentionPolicy, error) {
	var (
		policy storepkg.RetentionPolicy
		err    error
	)
	if policy.Jobs, err = parseRetention("retention.jobs", d.Retention.Jobs); err != nil {
		return policy, err
	}
	if policy.Cache, err = parseRetention("retention.cache", d.Retention.Cache); err != nil {
		return policy, err
	}
	if policy.Transfers, err = parseRetention("retention.transfers", d.Retention.Transfers); err != nil {
		return policy, err
	}
	return policy, nil
}

func parseRetention(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: cannot be negative", name)
	}
	return d, nil
}

// Empty reports whether the patch changes nothing.
func (p DynamicPatch) Empty() bool {
	return p.ACLMode == nil && p.PreferLink == nil && p.Retention == nil
}

// MarshalRevision serializes the dynamic subset for a config revision.
func (d Dynamic) MarshalRevision() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseRevision restores a Dynamic from a stored revision.
func ParseRevision(raw string) (Dynamic, error) {
	var d Dynamic
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Dynamic{}, fmt.Errorf("parse config revision: %w", err)
	}
	if _, err := acl.ParseMode(string(d.ACLMode)); err != nil {
		return Dynamic{}, errors.Join(errors.New("parse config revision"), err)
	}
	return d, nil
}

// Patch converts a stored Dynamic back into a full patch.
func (d Dynamic) Patch() DynamicPatch {
	mode := string(d.ACLMode)
	prefer := d.PreferLink
	jobs, cache, transfers := d.Retention.Jobs, d.Retention.Cache, d.Retention.Transfers
	return DynamicPatch{
		ACLMode:    &mode,
		PreferLink: &prefer,
		Retention:  &DynamicRetentionPatch{Jobs: &jobs, Cache: &cache, Transfers: &transfers},
	}
}
