// internal/mikrotik/profiles.go
package mikrotik

import (
	"context"
	"fmt"
	"strings"

	"netbill-service/internal/domain/router"

	"github.com/go-routeros/routeros/v3/proto"
	"go.uber.org/zap"
)

// ListProfiles returns every PPP profile keyed by name.
func (c *Client) ListProfiles(ctx context.Context) (map[string]router.Profile, error) {
	reply, err := c.run(ctx, "/ppp/profile/print")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	profiles := make(map[string]router.Profile, len(reply.Re))
	for _, re := range reply.Re {
		p := parseProfile(re)
		profiles[p.Name] = p
	}
	return profiles, nil
}

// EnsureProfile creates the profile or updates it when its attributes differ.
func (c *Client) EnsureProfile(ctx context.Context, p router.Profile) error {
	reply, err := c.run(ctx, "/ppp/profile/print", "?name="+p.Name)
	if err != nil {
		return fmt.Errorf("lookup profile %s: %w", p.Name, err)
	}

	if len(reply.Re) == 0 {
		sentence := append([]string{"/ppp/profile/add", "=name=" + p.Name}, profileAttrs(p)...)
		if _, err := c.run(ctx, sentence...); err != nil {
			return fmt.Errorf("create profile %s: %w", p.Name, err)
		}
		c.logger.Info("router profile created", zap.String("name", p.Name), zap.String("rate_limit", p.RateLimit))
		return nil
	}

	current := parseProfile(reply.Re[0])
	if current.RateLimit == p.RateLimit &&
		current.LocalAddress == p.LocalAddress &&
		current.RemoteAddress == p.RemoteAddress &&
		(p.Comment == "" || current.Comment == p.Comment) {
		return nil
	}

	sentence := append([]string{"/ppp/profile/set", "=.id=" + current.ID}, profileAttrs(p)...)
	if _, err := c.run(ctx, sentence...); err != nil {
		return fmt.Errorf("update profile %s: %w", p.Name, err)
	}
	c.logger.Info("router profile updated",
		zap.String("name", p.Name),
		zap.String("id", current.ID),
		zap.String("rate_limit", p.RateLimit),
	)
	return nil
}

// EnsurePool creates the IP pool or updates its ranges.
func (c *Client) EnsurePool(ctx context.Context, pool router.Pool) error {
	reply, err := c.run(ctx, "/ip/pool/print", "?name="+pool.Name)
	if err != nil {
		return fmt.Errorf("lookup pool %s: %w", pool.Name, err)
	}

	ranges := pool.RangesValue()
	if len(reply.Re) == 0 {
		if _, err := c.run(ctx, "/ip/pool/add", "=name="+pool.Name, "=ranges="+ranges); err != nil {
			return fmt.Errorf("create pool %s: %w", pool.Name, err)
		}
		c.logger.Info("router pool created", zap.String("name", pool.Name), zap.String("ranges", ranges))
		return nil
	}

	m := reply.Re[0].Map
	if m["ranges"] == ranges {
		return nil
	}
	if _, err := c.run(ctx, "/ip/pool/set", "=.id="+m[".id"], "=ranges="+ranges); err != nil {
		return fmt.Errorf("update pool %s: %w", pool.Name, err)
	}
	c.logger.Info("router pool updated", zap.String("name", pool.Name), zap.String("ranges", ranges))
	return nil
}

func profileAttrs(p router.Profile) []string {
	var attrs []string
	if p.RateLimit != "" {
		attrs = append(attrs, "=rate-limit="+p.RateLimit)
	}
	if p.LocalAddress != "" {
		attrs = append(attrs, "=local-address="+p.LocalAddress)
	}
	if p.RemoteAddress != "" {
		attrs = append(attrs, "=remote-address="+p.RemoteAddress)
	}
	if p.Comment != "" {
		attrs = append(attrs, "=comment="+strings.TrimSpace(p.Comment))
	}
	return attrs
}

func parseProfile(re *proto.Sentence) router.Profile {
	m := re.Map
	return router.Profile{
		ID:            m[".id"],
		Name:          m["name"],
		RateLimit:     m["rate-limit"],
		LocalAddress:  m["local-address"],
		RemoteAddress: m["remote-address"],
		Comment:       m["comment"],
	}
}
