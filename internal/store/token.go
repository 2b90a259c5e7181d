package store

// DiscordTokenKey is the settings key holding the desktop IPC access token.
const DiscordTokenKey = "discord.access_token"

// TokenStore persists a single access token in the settings table.
type TokenStore struct {
	store *Store
	key   string
}

// DiscordTokens returns the token store used by the discord client.
func (s *Store) DiscordTokens() *TokenStore {
	return &TokenStore{store: s, key: DiscordTokenKey}
}

// Token returns the stored token, or "" when none is stored.
func (t *TokenStore) Token() (string, error) {
	v, _, err := t.store.GetSetting(t.key)
	return v, err
}

// SetToken stores token, replacing any previous one.
func (t *TokenStore) SetToken(token string) error {
	return t.store.SetSetting(t.key, token)
}

// ClearToken removes the stored token.
func (t *TokenStore) ClearToken() error {
	return t.store.DeleteSetting(t.key)
}
