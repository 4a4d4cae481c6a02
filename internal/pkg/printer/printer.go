// Package printer 为命令行工具输出带颜色的提示信息。
//
// 设置 NO_COLOR 或输出不是终端时自动退化为纯文本。
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer 将消息写到标准输出与标准错误。
type Printer struct {
	out io.Writer
	err io.Writer
}

// New 创建 Printer，out 用于普通输出，errOut 用于错误。
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Out 返回普通输出的 writer，供表格等场景使用。
func (p *Printer) Out() io.Writer {
	return p.out
}

// Success 绿色输出，带 ✓ 前缀。
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info 默认颜色输出。
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning 黄色输出。
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.out, "! %s", fmt.Sprintf(format, a...))
}

// Step 多步骤操作中的进度提示。
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// ReportedError 已经输出给用户的错误，调用方无需再次打印。
type ReportedError struct {
	Title string
}

func (e *ReportedError) Error() string {
	return e.Title
}

// Error 输出标题、说明与建议到标准错误，并返回 *ReportedError。
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
		}
	}
	return &ReportedError{Title: title}
}

// Fail 输出未经 Error 处理的普通错误。
func (p *Printer) Fail(err error) {
	red.Fprintf(p.err, "Error: %v\n", err)
}
