// internal/mikrotik/secrets.go
package mikrotik

import (
	"context"
	"fmt"
	"net"

	"netbill-service/internal/domain/router"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/go-routeros/routeros/v3/proto"
	"go.uber.org/zap"
)

// ListSecrets returns every PPP secret keyed by name.
func (c *Client) ListSecrets(ctx context.Context) (map[string]router.Secret, error) {
	reply, err := c.run(ctx, "/ppp/secret/print")
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}

	secrets := make(map[string]router.Secret, len(reply.Re))
	for _, re := range reply.Re {
		s := parseSecret(re)
		if s.Name == "" {
			continue
		}
		secrets[s.Name] = s
	}
	return secrets, nil
}

// GetSecret looks a secret up by username.
func (c *Client) GetSecret(ctx context.Context, username string) (router.Secret, error) {
	reply, err := c.run(ctx, "/ppp/secret/print", "?name="+username)
	if err != nil {
		return router.Secret{}, fmt.Errorf("get secret %s: %w", username, err)
	}
	if len(reply.Re) == 0 {
		return router.Secret{}, fmt.Errorf("secret %s: %w", username, xerrors.ErrRouterNotFound)
	}
	return parseSecret(reply.Re[0]), nil
}

// CreateSecret adds a PPP secret and returns its router id. If a secret with the
// same name already exists (e.g. a retried add), its id is returned instead.
func (c *Client) CreateSecret(ctx context.Context, s router.NewSecret) (string, error) {
	service := s.Service
	if service == "" {
		service = "pppoe"
	}
	sentence := []string{
		"/ppp/secret/add",
		"=name=" + s.Name,
		"=password=" + s.Password,
		"=profile=" + s.Profile,
		"=service=" + service,
	}
	if s.LocalAddress != "" {
		sentence = append(sentence, "=local-address="+s.LocalAddress)
	}
	if isIP(s.RemoteAddress) {
		sentence = append(sentence, "=remote-address="+s.RemoteAddress)
	}
	if s.Comment != "" {
		sentence = append(sentence, "=comment="+s.Comment)
	}

	reply, err := c.run(ctx, sentence...)
	if err != nil {
		if isAlreadyExists(err) {
			existing, getErr := c.GetSecret(ctx, s.Name)
			if getErr == nil {
				c.logger.Warn("secret already existed on router", zap.String("username", s.Name), zap.String("id", existing.ID))
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("create secret %s: %w", s.Name, err)
	}

	id := ""
	if reply.Done != nil {
		id = reply.Done.Map["ret"]
	}
	c.logger.Info("router secret created",
		zap.String("username", s.Name),
		zap.String("id", id),
		zap.String("profile", s.Profile),
		zap.String("service", service),
	)
	return id, nil
}

// UpdateSecret sends only the fields present in upd. A remote-address that is not
// a literal IP is dropped so pool-assigned addresses are never overwritten.
func (c *Client) UpdateSecret(ctx context.Context, id string, upd router.SecretUpdate) error {
	if upd.RemoteAddress != nil && !isIP(*upd.RemoteAddress) {
		c.logger.Warn("dropping non-IP remote-address from secret update",
			zap.String("id", id),
			zap.String("remote_address", *upd.RemoteAddress),
		)
		upd.RemoteAddress = nil
	}
	if upd.IsEmpty() {
		return nil
	}

	sentence := []string{"/ppp/secret/set", "=.id=" + id}
	if upd.Password != nil {
		sentence = append(sentence, "=password="+*upd.Password)
	}
	if upd.Profile != nil {
		sentence = append(sentence, "=profile="+*upd.Profile)
	}
	if upd.LocalAddress != nil {
		sentence = append(sentence, "=local-address="+*upd.LocalAddress)
	}
	if upd.RemoteAddress != nil {
		sentence = append(sentence, "=remote-address="+*upd.RemoteAddress)
	}
	if upd.Comment != nil {
		sentence = append(sentence, "=comment="+*upd.Comment)
	}
	if upd.Disabled != nil {
		sentence = append(sentence, "=disabled="+yesNo(*upd.Disabled))
	}

	if _, err := c.run(ctx, sentence...); err != nil {
		return fmt.Errorf("update secret %s: %w", id, err)
	}

	fields := []zap.Field{zap.String("id", id), zap.Strings("fields", upd.Fields())}
	if upd.Profile != nil {
		fields = append(fields, zap.String("profile", *upd.Profile))
	}
	c.logger.Info("router secret updated", fields...)
	return nil
}

// DeleteSecret removes a secret by router id.
func (c *Client) DeleteSecret(ctx context.Context, id string) error {
	if _, err := c.run(ctx, "/ppp/secret/remove", "=.id="+id); err != nil {
		return fmt.Errorf("delete secret %s: %w", id, err)
	}
	c.logger.Info("router secret deleted", zap.String("id", id))
	return nil
}

func parseSecret(re *proto.Sentence) router.Secret {
	m := re.Map
	return router.Secret{
		ID:            m[".id"],
		Name:          m["name"],
		Password:      m["password"],
		Profile:       m["profile"],
		Service:       m["service"],
		LocalAddress:  m["local-address"],
		RemoteAddress: m["remote-address"],
		Comment:       m["comment"],
		Disabled:      m["disabled"] == "true" || m["disabled"] == "yes",
	}
}

func isIP(s string) bool {
	return s != "" && net.ParseIP(s) != nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
