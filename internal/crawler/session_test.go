package crawler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResult, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(FetchResult), args.Error(1)
}

func TestSessionGet(t *testing.T) {
	t.Parallel()

	const target = "https://registry.example.com/company/B12345678"

	t.Run("NormalizesSuccessfulResponse", func(t *testing.T) {
		t.Parallel()
		// Arrange
		fetcher := new(MockFetcher)
		headers := http.Header{"X-Session": {"1"}}
		fetcher.On("Fetch", mock.Anything, FetchRequest{URL: target, Headers: headers}).
			Return(NewFetchResult("", http.StatusOK, nil, []byte("<html>ok</html>")), nil).Once()
		session, err := NewSession(fetcher, textNormalizer{}, WithHeaders(headers))
		require.NoError(t, err)

		// Act
		page, err := session.Get(context.Background(), target)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, page.Attempts)
		assert.Equal(t, "<html>ok</html>", page.Doc.Text)
		assert.Equal(t, target, page.Doc.URL)
		fetcher.AssertExpectations(t)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		t.Parallel()
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, mock.Anything).
			Return(NewFetchResult(target, http.StatusServiceUnavailable, nil, nil), nil).Once()
		fetcher.On("Fetch", mock.Anything, mock.Anything).
			Return(NewFetchResult(target, http.StatusOK, nil, []byte("recovered")), nil).Once()
		session, err := NewSession(fetcher, textNormalizer{},
			WithRetryPolicy(NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond)))
		require.NoError(t, err)

		page, err := session.Get(context.Background(), target)

		require.NoError(t, err)
		assert.Equal(t, 2, page.Attempts)
		assert.Equal(t, "recovered", page.Doc.Text)
		fetcher.AssertExpectations(t)
	})

	t.Run("DoesNotRetryClientErrors", func(t *testing.T) {
		t.Parallel()
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, mock.Anything).
			Return(NewFetchResult(target, http.StatusNotFound, nil, nil), nil).Once()
		session, err := NewSession(fetcher, textNormalizer{},
			WithRetryPolicy(NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond)))
		require.NoError(t, err)

		_, err = session.Get(context.Background(), target)

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
		fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	})

	t.Run("WrapsFetcherErrors", func(t *testing.T) {
		t.Parallel()
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, mock.Anything).
			Return(FetchResult{}, assert.AnError).Once()
		session, err := NewSession(fetcher, textNormalizer{})
		require.NoError(t, err)

		_, err = session.Get(context.Background(), target)

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, target, transportErr.URL)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("CallsPageHookOnSuccessOnly", func(t *testing.T) {
		t.Parallel()
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, FetchRequest{URL: target}).
			Return(NewFetchResult(target, http.StatusOK, nil, []byte("page")), nil).Once()
		fetcher.On("Fetch", mock.Anything, FetchRequest{URL: target + "/missing"}).
			Return(NewFetchResult(target+"/missing", http.StatusNotFound, nil, nil), nil).Once()
		var seen []string
		session, err := NewSession(fetcher, textNormalizer{}, WithPageHook(func(_ context.Context, p Page) {
			seen = append(seen, p.Doc.Text)
		}))
		require.NoError(t, err)

		_, err = session.Get(context.Background(), target)
		require.NoError(t, err)
		_, err = session.Get(context.Background(), target+"/missing")
		require.Error(t, err)

		assert.Equal(t, []string{"page"}, seen)
	})

	t.Run("StopsWhenPacerIsCanceled", func(t *testing.T) {
		t.Parallel()
		fetcher := new(MockFetcher)
		session, err := NewSession(fetcher, textNormalizer{})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = session.Get(ctx, target)

		require.ErrorIs(t, err, context.Canceled)
		fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewSession(nil, textNormalizer{})
	require.Error(t, err)
	_, err = NewSession(new(MockFetcher), nil)
	require.Error(t, err)
}
