package bot

import (
	"strings"

	"github.com/hitoshi/mediabot/internal/confirm"
	"github.com/hitoshi/mediabot/internal/telegram"
)

// Request はコマンド1件分の入力。
type Request struct {
	ChatID    int64
	ChatType  string
	UserID    int64
	Username  string
	MessageID int
	Text      string
	Command   string // 先頭の"/"と"@ボット名"を除いたコマンド名
	Args      []string

	// awaitingConfirmation は確認待ちとして保留されたことを示す。
	// 保留されたコマンドのメッセージは確認の解決時に削除キューへ積まれる。
	awaitingConfirmation bool
}

// parseCommand は"/name@bot arg1 arg2"形式のテキストからコマンド名と引数を取り出す。
// コマンドでなければokはfalse。
func parseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// requestFromMessage はメッセージからRequestを組み立てる。コマンドでなければnil。
func requestFromMessage(msg *telegram.Message) *Request {
	name, args, ok := parseCommand(msg.Text)
	if !ok || msg.Chat == nil {
		return nil
	}
	req := &Request{
		ChatID:    msg.Chat.ID,
		ChatType:  msg.Chat.Type,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Command:   name,
		Args:      args,
	}
	if msg.From != nil {
		req.UserID = msg.From.ID
		req.Username = msg.From.UserName
	}
	return req
}

// requestFromCallback はボタンのコールバックからRequestを組み立てる。
// コマンド名はprefixの末尾の"_"を除いたもの、引数はprefixに続く値のみとする。
func requestFromCallback(cq *telegram.CallbackQuery, prefix string) *Request {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return nil
	}
	return &Request{
		ChatID:    cq.Message.Chat.ID,
		ChatType:  cq.Message.Chat.Type,
		UserID:    cq.From.ID,
		Username:  cq.From.UserName,
		MessageID: cq.Message.MessageID,
		Text:      cq.Data,
		Command:   strings.TrimSuffix(prefix, "_"),
		Args:      []string{strings.TrimPrefix(cq.Data, prefix)},
	}
}

// command は確認待ちとして保持する値に変換する。
func (r *Request) command() confirm.Command {
	return confirm.Command{
		Name:      r.Command,
		Args:      append([]string(nil), r.Args...),
		ChatID:    r.ChatID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Text:      r.Text,
	}
}

// requestFromCommand は確認後に再実行するためのRequestを組み立てる。
// 確認は個人チャットでのみ受け付けるため、チャット種別はprivateとする。
func requestFromCommand(cmd confirm.Command) *Request {
	return &Request{
		ChatID:    cmd.ChatID,
		ChatType:  telegram.ChatTypePrivate,
		UserID:    cmd.UserID,
		MessageID: cmd.MessageID,
		Text:      cmd.Text,
		Command:   cmd.Name,
		Args:      cmd.Args,
	}
}
