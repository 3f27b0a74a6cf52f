package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{
			name:    "valid single include",
			cfg:     Config{Includes: []string{"src/core/**"}},
			wantErr: nil,
		},
		{
			name:    "valid with excludes",
			cfg:     Config{Includes: []string{"src/**"}, Excludes: []string{"**/*.md"}},
			wantErr: nil,
		},
		{
			name:    "no includes",
			cfg:     Config{},
			wantErr: ErrNoIncludes,
		},
		{
			name:    "empty includes slice",
			cfg:     Config{Includes: []string{}},
			wantErr: ErrNoIncludes,
		},
		{
			name:        "invalid include pattern",
			cfg:         Config{Includes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
		{
			name:        "invalid exclude pattern",
			cfg:         Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			} else if tt.wantErrType != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.Nil(t, m)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		path     string
		expected bool
	}{
		// Basic matching
		{"simple match", []string{"**/*.rs"}, nil, "lib.rs", true},
		{"simple no match", []string{"**/*.rs"}, nil, "lib.go", false},
		{"nested match", []string{"src/core/**/*.rs"}, nil, "src/core/ops/add.rs", true},
		{"nested no match", []string{"src/core/**/*.rs"}, nil, "src/shortint/server_key.rs", false},

		// Exclude patterns win over includes
		{"excluded", []string{"src/**"}, []string{"**/*.md"}, "src/README.md", false},
		{"not excluded", []string{"src/**"}, []string{"**/*.md"}, "src/lib.rs", true},
		{"bench excluded", []string{"src/**"}, []string{"src/benches/**"}, "src/benches/bench.rs", false},
		{"bench sibling kept", []string{"src/**"}, []string{"src/benches/**"}, "src/tests/test.rs", true},

		// Dotfile paths are ordinary paths
		{"workflow file", []string{".github/**"}, nil, ".github/workflows/ci.yml", true},
		{"dotfile under src", []string{"src/**"}, nil, "src/.cargo/config", true},

		// Multiple includes (OR)
		{"multi include first", []string{"*.toml", "*.lock"}, nil, "Cargo.toml", true},
		{"multi include second", []string{"*.toml", "*.lock"}, nil, "Cargo.lock", true},
		{"multi include none", []string{"*.toml", "*.lock"}, nil, "Makefile", false},

		// Path normalization
		{"dot-slash path", []string{"src/**"}, nil, "./src/lib.rs", true},
		{"backslash path", []string{"src/**"}, nil, "src\\lib.rs", true},
		{"leading slash path", []string{"src/**"}, nil, "/src/lib.rs", true},

		// Edge cases
		{"empty path", []string{"**"}, nil, "", true},
		{"exact match", []string{"Makefile"}, nil, "Makefile", true},
		{"exact no match", []string{"Makefile"}, nil, "makefile.bak", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Config{Includes: tt.includes, Excludes: tt.excludes})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.Match(tt.path))
		})
	}
}

func TestMatcher_MatchAny(t *testing.T) {
	m, err := New(Config{Includes: []string{"src/core/**"}, Excludes: []string{"**/*.md"}})
	require.NoError(t, err)

	assert.True(t, m.MatchAny([]string{"README.md", "src/core/lib.rs"}))
	assert.False(t, m.MatchAny([]string{"README.md", "src/core/README.md"}))
	assert.False(t, m.MatchAny(nil))
}

func TestMatcher_Patterns(t *testing.T) {
	m, err := New(Config{Includes: []string{"src\\**"}, Excludes: []string{"./docs/**"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/**"}, m.IncludePatterns())
	assert.Equal(t, []string{"docs/**"}, m.ExcludePatterns())
}
