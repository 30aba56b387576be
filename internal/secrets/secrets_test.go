package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSource(t *testing.T) {
	token, err := EnvSource{Value: "hf_abc"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hf_abc", token)

	_, err = EnvSource{}.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestSecretManagerSource(t *testing.T) {
	const name = "projects/p/secrets/hub-token/versions/latest"

	tests := []struct {
		name    string
		payload []byte
		err     error
		want    string
		wantErr error
	}{
		{name: "trims payload", payload: []byte("hf_abc\n"), want: "hf_abc"},
		{name: "empty payload", payload: []byte("  "), wantErr: ErrTokenNotFound},
		{name: "access error", err: errors.New("permission denied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &SecretManagerSource{
				name: name,
				access: func(_ context.Context, got string) ([]byte, error) {
					assert.Equal(t, name, got)

					return tt.payload, tt.err
				},
			}

			token, err := src.Token(context.Background())

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.err != nil:
				require.ErrorIs(t, err, tt.err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, token)
			}

			require.NoError(t, src.Close())
		})
	}
}

func TestResolve_Env(t *testing.T) {
	token, err := Resolve(context.Background(), "hf_env", "")
	require.NoError(t, err)
	assert.Equal(t, "hf_env", token)

	_, err = Resolve(context.Background(), "", "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}
