package chat

// 发给用户的提示文本
const (
	noticeCompletionFailed = "Sorry, I encountered an error processing your request. Please try again."
	noticeDocumentFailed   = "Sorry, I encountered an error processing your PDF. Please try again."
)

func noticeDocumentReady(name string) string {
	return "I've processed \"" + name + "\". You can now ask questions about this document."
}

// ComposePrompt 组合发给大模型的提示词
// 有文档文本时把文档放在问题前面，否则直接使用用户输入
// 文档名不进入提示词，只随消息一起写入
func ComposePrompt(documentText, question string) string {
	if documentText == "" {
		return question
	}
	return "Here's the content of the PDF:\n" + documentText + "\n\nUser question: " + question
}
