package authmw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.uber.org/zap"
)

// Directory answers whether a username exists in the realm, so tasks are
// only assigned to real users.
type Directory struct {
	Client       *gocloak.GoCloak
	Realm        string
	clientID     string
	clientSecret string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewDirectory(baseURL, realm, clientID, clientSecret string) (*Directory, error) {
	d := &Directory{
		Client:       gocloak.NewClient("http://" + baseURL),
		Realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	if err := d.selfTest(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) selfTest() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := d.adminToken(ctx)
	if err != nil {
		return fmt.Errorf("keycloak auth failed: %w", err)
	}

	// Minimal permission check (safe & cheap)
	if _, err := d.Client.GetRealm(ctx, token, d.Realm); err != nil {
		return fmt.Errorf("keycloak permission check failed: %w", err)
	}
	return nil
}

// adminToken logs in with the client credentials, reusing the token until
// shortly before it expires.
func (d *Directory) adminToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != "" && time.Now().Before(d.expires) {
		return d.token, nil
	}
	jwt, err := d.Client.LoginClient(ctx, d.clientID, d.clientSecret, d.Realm)
	if err != nil {
		return "", err
	}
	d.token = jwt.AccessToken
	d.expires = time.Now().Add(time.Duration(jwt.ExpiresIn)*time.Second - 10*time.Second)
	return d.token, nil
}

func (d *Directory) UserExists(ctx context.Context, username string) (bool, error) {
	token, err := d.adminToken(ctx)
	if err != nil {
		return false, err
	}
	users, err := d.Client.GetUsers(ctx, token, d.Realm, gocloak.GetUsersParams{
		Username: gocloak.StringP(username),
		Exact:    gocloak.BoolP(true),
		Max:      gocloak.IntP(2),
	})
	if err != nil {
		zap.L().Warn("user lookup failed", zap.String("username", username), zap.Error(err))
		return false, err
	}
	return len(users) > 0, nil
}
