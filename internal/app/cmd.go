package app

import "strings"

// Command はcoursemartバイナリの起動モード。
type Command string

const (
	// CommandServe は決済APIサーバーを起動する。引数なしの場合もこのモードになる。
	CommandServe Command = "serve"
	// CommandWorker は受講権の修復ジョブとイベントログのクリーンアップを実行する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認して終了する。
	// distrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

// knownCommands は受け付けるサブコマンドの一覧。
var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決定する。大文字小文字と前後の空白は無視する。
// 引数が空、または未知のコマンドの場合はCommandServeを返す。2番目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[strings.ToLower(strings.TrimSpace(args[0]))]; ok {
		return cmd
	}
	return CommandServe
}
