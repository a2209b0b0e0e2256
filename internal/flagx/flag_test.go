package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	allowed := []string{"-c", "--config"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "short flag keeps its value",
			args: []string{"-c", "offlinekit.json", "-r", "http://localhost:9000"},
			want: []string{"-c", "offlinekit.json"},
		},
		{
			name: "equals form kept whole",
			args: []string{"--config=alt.json", "-i", "60"},
			want: []string{"--config=alt.json"},
		},
		{
			name: "order preserved across spellings",
			args: []string{"--config=first.json", "-c", "second.json"},
			want: []string{"--config=first.json", "-c", "second.json"},
		},
		{
			name: "foreign flags and positionals dropped",
			args: []string{"-s", "merge", "--prefer-local", "data"},
			want: []string{},
		},
		{
			name: "trailing flag without value survives",
			args: []string{"-c"},
			want: []string{"-c"},
		},
		{
			name: "dash token after flag is not its value",
			args: []string{"-c", "-s"},
			want: []string{"-c"},
		},
		{
			name: "repeated flag kept in order",
			args: []string{"-c", "one.json", "-c", "two.json"},
			want: []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name: "empty input yields empty output",
			args: []string{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short flag", func(t *testing.T) {
		os.Args = []string{"offlinekit", "-c", "/etc/offlinekit/config.json"}
		assert.Equal(t, "/etc/offlinekit/config.json", JsonConfigFlags())
	})

	t.Run("long flag", func(t *testing.T) {
		os.Args = []string{"offlinekit", "-config", "local.json"}
		assert.Equal(t, "local.json", JsonConfigFlags())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"offlinekit", "-r", "http://localhost:9000"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		os.Args = []string{"offlinekit", "-c", "a.json", "-config", "b.json"}
		assert.Equal(t, "b.json", JsonConfigFlags())
	})
}
