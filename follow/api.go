package follow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/golang/glog"
)

type FollowApiSettings struct {
	HttpTimeout        time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout     time.Duration
	// requests per second. `rate.Inf` disables pacing
	RequestLimit rate.Limit
	RequestBurst int
}

func DefaultFollowApiSettings() *FollowApiSettings {
	return &FollowApiSettings{
		HttpTimeout:        60 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout:     5 * time.Second,
		RequestLimit:       rate.Limit(10),
		RequestBurst:       4,
	}
}

func (self *FollowApiSettings) client() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: self.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: self.HttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   self.HttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	HandleError(func() {
		self.callback(result, err)
	})
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// client for the social network rest api.
// Requests are not canceled when the view that started them goes away,
// only when the api itself is closed.
type FollowApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string
	auth   *SessionAuth

	client  *http.Client
	limiter *rate.Limiter
}

func NewFollowApi(apiUrl string, auth *SessionAuth) *FollowApi {
	return NewFollowApiWithContext(context.Background(), apiUrl, auth, DefaultFollowApiSettings())
}

func NewFollowApiWithContext(ctx context.Context, apiUrl string, auth *SessionAuth, settings *FollowApiSettings) *FollowApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FollowApi{
		ctx:     cancelCtx,
		cancel:  cancel,
		apiUrl:  strings.TrimRight(apiUrl, "/"),
		auth:    auth,
		client:  settings.client(),
		limiter: rate.NewLimiter(settings.RequestLimit, settings.RequestBurst),
	}
}

func (self *FollowApi) Auth() *SessionAuth {
	return self.auth
}

// the realtime channel is `/ws` on the api host
func (self *FollowApi) WsUrl() (string, error) {
	u, err := url.Parse(self.apiUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func (self *FollowApi) Close() {
	self.cancel()
}

type GetUserCallback apiCallback[*SessionUserResult]

func (self *FollowApi) GetUser(callback GetUserCallback) {
	go get(
		self,
		fmt.Sprintf("%s/api/user", self.apiUrl),
		&SessionUserResult{},
		callback,
	)
}

func (self *FollowApi) GetUserSync() (*SessionUserResult, error) {
	return get(
		self,
		fmt.Sprintf("%s/api/user", self.apiUrl),
		&SessionUserResult{},
		NewNoopApiCallback[*SessionUserResult](),
	)
}

type UsersCallback apiCallback[[]*DirectoryUser]

func (self *FollowApi) Users(callback UsersCallback) {
	go post(
		self,
		fmt.Sprintf("%s/api/users", self.apiUrl),
		nil,
		[]*DirectoryUser{},
		callback,
	)
}

func (self *FollowApi) UsersSync() ([]*DirectoryUser, error) {
	return post(
		self,
		fmt.Sprintf("%s/api/users", self.apiUrl),
		nil,
		[]*DirectoryUser{},
		NewNoopApiCallback[[]*DirectoryUser](),
	)
}

type FollowersCallback apiCallback[*FollowerRecord]

type FollowersArgs struct {
	// nil when no one is logged in
	Follower *string `json:"follower"`
	Followee string  `json:"followee"`
}

// nil when `follower` does not follow `followee`
type FollowerRecord struct {
	Follower string `json:"follower"`
	Followee string `json:"followee"`
}

func (self *FollowApi) Followers(followers *FollowersArgs, callback FollowersCallback) {
	go post(
		self,
		fmt.Sprintf("%s/api/followers", self.apiUrl),
		followers,
		&FollowerRecord{},
		callback,
	)
}

func (self *FollowApi) FollowersSync(followers *FollowersArgs) (*FollowerRecord, error) {
	return post(
		self,
		fmt.Sprintf("%s/api/followers", self.apiUrl),
		followers,
		&FollowerRecord{},
		NewNoopApiCallback[*FollowerRecord](),
	)
}

type PostInteractionCallback apiCallback[*PostInteractionResult]

const PostInteractionDelete = "delete"

type PostInteractionArgs struct {
	PostId string `json:"post-id"`
	Type   string `json:"type"`
}

// an empty `Error` is success
type PostInteractionResult struct {
	Error string `json:"error"`
}

func (self *PostInteractionResult) Err() error {
	if self.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPostInteraction, self.Error)
}

func (self *FollowApi) DeletePost(postId string, callback PostInteractionCallback) {
	go post(
		self,
		fmt.Sprintf("%s/post-interactions", self.apiUrl),
		&PostInteractionArgs{
			PostId: postId,
			Type:   PostInteractionDelete,
		},
		&PostInteractionResult{},
		callback,
	)
}

func (self *FollowApi) DeletePostSync(postId string) (*PostInteractionResult, error) {
	return post(
		self,
		fmt.Sprintf("%s/post-interactions", self.apiUrl),
		&PostInteractionArgs{
			PostId: postId,
			Type:   PostInteractionDelete,
		},
		&PostInteractionResult{},
		NewNoopApiCallback[*PostInteractionResult](),
	)
}

func post[R any](api *FollowApi, url string, args any, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(api.ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return do(api, req, result, callback)
}

func get[R any](api *FollowApi, url string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(api.ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return do(api, req, result, callback)
}

func do[R any](api *FollowApi, req *http.Request, result R, callback apiCallback[R]) (R, error) {
	if err := api.limiter.Wait(req.Context()); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	api.auth.apply(req)

	r, err := api.client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode == http.StatusUnauthorized {
		var empty R
		callback.Result(empty, ErrUnauthorized)
		return empty, ErrUnauthorized
	}

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		}
		err = errors.New(errorMessage)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		glog.Infof("[api]%s %s decode error = %s\n", req.Method, req.URL.Path, err)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	glog.V(2).Infof("[api]%s %s\n", req.Method, req.URL.Path)
	callback.Result(result, nil)
	return result, nil
}
