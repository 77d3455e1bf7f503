package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFramework(t *testing.T) {
	tests := []struct {
		key   string
		want  Framework
		start string
	}{
		{"django", Django, "gunicorn sampleapi.wsgi"},
		{"flask", Flask, "python server.py"},
		{"fast", FastAPI, "uvicorn server:app --host=0.0.0.0 --port=8000"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			f, err := ParseFramework(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
			assert.Equal(t, tt.key, f.Key())

			p := f.Profile()
			assert.Equal(t, tt.key, p.Branch)
			assert.Equal(t, 8000, p.Port)
			assert.Equal(t, "pip install -r requirements.txt", p.BuildCommand)
			assert.Equal(t, tt.start, p.StartCommand)
		})
	}
}

func TestParseFramework_Unknown(t *testing.T) {
	for _, key := range []string{"", "fastapi", "Django", "rails"} {
		_, err := ParseFramework(key)
		assert.ErrorIs(t, err, ErrUnknownFramework, key)
	}
}

func TestFramework_Images(t *testing.T) {
	assert.Equal(t, "public.ecr.aws/shafkevi/simple-python-api:fastapi", FastAPI.Profile().Image)
	assert.Empty(t, Django.Profile().Image)
	assert.Empty(t, Flask.Profile().Image)
}

func TestFramework_ProfileExhaustive(t *testing.T) {
	for _, f := range Frameworks() {
		assert.NotPanics(t, func() { f.Profile() }, f.String())
	}
	assert.Panics(t, func() { Framework(0).Profile() })
}
