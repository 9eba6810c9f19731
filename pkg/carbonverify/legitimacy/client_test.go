package legitimacy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

type fakeHTTPClient struct {
	responses []*http.Response
	errs      []error
	calls     int
}

func (f *fakeHTTPClient) Do(*http.Request) (*http.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], f.errs[i]
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func testClientConfig() config.ProviderConfig {
	return config.ProviderConfig{
		URL:        "http://legitimacy.test/assess",
		APIKey:     "test-key",
		Timeout:    model.Duration(time.Second),
		MaxRetries: 2,
		RetryDelay: model.Duration(time.Millisecond),
		RateLimit:  1000,
	}
}

func testProject() types.ProjectDescriptor {
	return types.ProjectDescriptor{
		ProjectID:    "proj-legit",
		AreaHectares: 100,
		StartDate:    time.Now().AddDate(-1, 0, 0),
	}
}

func TestAssessSuccess(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*http.Response{jsonResponse(http.StatusOK, `{"legitimacy_score":0.9,"risk_factors":["new_operator"]}`)},
		errs:      []error{nil},
	}
	c := NewClient(testClientConfig(), WithHTTPClient(fake))
	defer c.Close()

	got, err := c.Assess(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.LegitimacyScore)
	assert.Equal(t, []string{"new_operator"}, got.RiskFactors)
	assert.Equal(t, 1, fake.calls)
}

func TestAssessClampsScore(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*http.Response{jsonResponse(http.StatusOK, `{"legitimacy_score":1.7}`)},
		errs:      []error{nil},
	}
	c := NewClient(testClientConfig(), WithHTTPClient(fake))
	defer c.Close()

	got, err := c.Assess(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.LegitimacyScore)
}

func TestAssessRetriesThenSucceeds(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*http.Response{
			jsonResponse(http.StatusInternalServerError, `{}`),
			jsonResponse(http.StatusOK, `{"legitimacy_score":0.5}`),
		},
		errs: []error{nil, nil},
	}
	c := NewClient(testClientConfig(), WithHTTPClient(fake))
	defer c.Close()

	got, err := c.Assess(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.LegitimacyScore)
	assert.Equal(t, 2, fake.calls)
}

func TestAssessExhaustedRetries(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*http.Response{jsonResponse(http.StatusUnauthorized, `{}`)},
		errs:      []error{nil},
	}
	c := NewClient(testClientConfig(), WithHTTPClient(fake))
	defer c.Close()

	_, err := c.Assess(context.Background(), testProject())
	assert.ErrorIs(t, err, types.ErrUpstreamFailure)
	assert.Equal(t, 3, fake.calls, "initial attempt plus two retries")
}
