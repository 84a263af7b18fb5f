package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"/start", "start", []string{}, true},
		{"/Register@MediaBot alice  CODE", "register", []string{"alice", "CODE"}, true},
		{"  /set_score 1 2 ", "set_score", []string{"1", "2"}, true},
		{"hello /start", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
		{"", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := parseCommand(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			if tt.wantOK {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestRequest_CommandRoundTrip(t *testing.T) {
	req := &Request{ChatID: 5, UserID: 6, MessageID: 7, Text: "/set_price 10", Command: "set_price", Args: []string{"10"}}

	back := requestFromCommand(req.command())

	assert.Equal(t, req.ChatID, back.ChatID)
	assert.Equal(t, req.UserID, back.UserID)
	assert.Equal(t, req.MessageID, back.MessageID)
	assert.Equal(t, req.Command, back.Command)
	assert.Equal(t, req.Args, back.Args)
	assert.Equal(t, "private", back.ChatType)
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"), mw("c"))

	_ = h(context.Background(), &Request{})

	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestValidate_ShortCircuits(t *testing.T) {
	called := false
	h := Chain(func(context.Context, *Request) error {
		called = true
		return nil
	}, Validate(validateSetPrice))

	err := h(context.Background(), &Request{Command: "set_price", Args: []string{"-1"}})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Paginate(items, 2))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, Paginate(items, 10))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, Paginate(items, 0))
	assert.Nil(t, Paginate([]int{}, 3))
}
