package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semplan/concept"
)

func TestRemember_Bullet(t *testing.T) {
	tests := []struct {
		name        string
		format      Remember
		explanation string
		key         string
		want        string
		wantErr     bool
	}{
		{name: "json", format: RememberJSONBullet, explanation: "a fruit", key: "apple", want: `{"Explanation":"a fruit","Summary_Key":"apple"}`},
		{name: "default is json", explanation: "e", key: "k", want: `{"Explanation":"e","Summary_Key":"k"}`},
		{name: "bracketed", format: RememberBullet, explanation: "a fruit", key: "apple", want: "[a fruit : apple]"},
		{name: "empty key uses explanation", format: RememberBullet, explanation: "pear", want: "[pear : pear]"},
		{name: "empty explanation", format: RememberJSONBullet, key: "k", want: `{"Explanation":"","Summary_Key":"k"}`},
		{name: "both empty", format: RememberJSONBullet, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.format.Bullet(tt.explanation, tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExplain(t *testing.T) {
	c, err := concept.New("fruit", "things that grow on trees", concept.TypeObject)
	require.NoError(t, err)
	agent := &stubAgent{explain: "A round\nfruit, \"crisp\"."}

	tests := []struct {
		name            string
		mode            InputMode
		value           any
		cfg             InputConfig
		wantExplanation string
		wantKey         string
		wantErr         bool
	}{
		{name: "replicate", mode: ModeReplicate, value: "apple", wantExplanation: "apple", wantKey: "apple"},
		{name: "empty", mode: ModeEmpty, value: "apple", wantKey: "apple"},
		{name: "number", mode: ModeReplicate, value: 42, wantExplanation: "42", wantKey: "42"},
		{
			name:            "direct object string",
			mode:            ModeDirect,
			value:           `{"Explanation": "red fruit", "Summary_Key": "apple"}`,
			wantExplanation: "red fruit",
			wantKey:         "apple",
		},
		{
			name:            "direct list takes first",
			mode:            ModeDirect,
			value:           `[{"Explanation": "first", "Summary_Key": "1"}, {"Explanation": "second", "Summary_Key": "2"}]`,
			wantExplanation: "first",
			wantKey:         "1",
		},
		{
			name:            "direct map",
			mode:            ModeDirect,
			value:           map[string]any{"Explanation": "e", "Summary_Key": "k"},
			wantExplanation: "e",
			wantKey:         "k",
		},
		{name: "direct missing key", mode: ModeDirect, value: `{"Explanation": "e"}`, wantErr: true},
		{name: "direct not json", mode: ModeDirect, value: "apple", wantErr: true},
		{name: "direct scalar", mode: ModeDirect, value: `"apple"`, wantErr: true},
		{
			name:            "template",
			mode:            ModeTemplate,
			value:           "apple",
			cfg:             InputConfig{Template: "$concept_name ($concept_type): $input_value, $$5"},
			wantExplanation: "fruit (object): apple, $5",
			wantKey:         "apple",
		},
		{
			name:            "per concept template wins",
			mode:            ModeTemplate,
			value:           "apple",
			cfg:             InputConfig{Template: "ignored", Templates: map[string]string{"fruit": "$concept_context"}},
			wantExplanation: "things that grow on trees",
			wantKey:         "apple",
		},
		{
			name:            "agent reply is flattened",
			mode:            ModeAgent,
			value:           "apple",
			wantExplanation: "A round fruit, 'crisp'.",
			wantKey:         "apple",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			explanation, key, err := explain(context.Background(), agent, c, tt.value, tt.mode, tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExplanation, explanation)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestExplain_AgentFailure(t *testing.T) {
	c, err := concept.New("fruit", "", concept.TypeObject)
	require.NoError(t, err)

	_, _, err = explain(context.Background(), &stubAgent{}, c, "apple", ModeAgent, InputConfig{})
	assert.ErrorContains(t, err, "explain input fruit")
}

func TestParseInputMode(t *testing.T) {
	m, err := ParseInputMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeReplicate, m)

	m, err = ParseInputMode("raw_agent_explanation")
	require.NoError(t, err)
	assert.Equal(t, ModeAgent, m)

	_, err = ParseInputMode("cooked")
	assert.ErrorIs(t, err, ErrInvalidInput)

	r, err := ParseRemember("bullet")
	require.NoError(t, err)
	assert.Equal(t, RememberBullet, r)
	_, err = ParseRemember("yaml")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
