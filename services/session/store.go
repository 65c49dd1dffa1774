package session

import (
	"context"
	"fmt"
	"time"

	"legionlaunch/lib/cookiejar"
	"legionlaunch/lib/kvstore"
)

const cookiesNamespace = "cookies"

// Store persists one cookie jar blob per service. The jar is written
// wholesale on every successful login/refresh and deleted when a fetch
// proves the session invalid.
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) Store {
	return Store{kv: kv}
}

func (s Store) Load(ctx context.Context, service string) (*cookiejar.Jar, bool, error) {
	buff, ok, err := s.kv.Get(ctx, cookiesNamespace, service)
	if err != nil || !ok {
		return nil, false, err
	}
	jar, err := cookiejar.Unmarshal(buff, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("load %s cookie jar: %w", service, err)
	}
	return jar, true, nil
}

func (s Store) Save(ctx context.Context, service string, jar *cookiejar.Jar) error {
	buff, err := jar.Marshal()
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, cookiesNamespace, service, buff)
}

func (s Store) Delete(ctx context.Context, service string) error {
	return s.kv.Delete(ctx, cookiesNamespace, service)
}
