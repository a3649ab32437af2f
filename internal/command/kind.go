package command

// Kind 枚举命令的处理分支，每个分支对应一个处理函数。
type Kind int

const (
	KindHelp Kind = iota
	KindUpload
	KindDownload
	KindRefundStatus
	KindFeedback
	KindAssistance
	KindQuestion
	KindSearch
	KindStartFiling
	KindDomain
	KindNaturalLanguage
	KindFallback

	kindCount
)

var kindNames = [kindCount]string{
	KindHelp:            "help",
	KindUpload:          "upload",
	KindDownload:        "download",
	KindRefundStatus:    "refund_status",
	KindFeedback:        "feedback",
	KindAssistance:      "assistance",
	KindQuestion:        "question",
	KindSearch:          "search",
	KindStartFiling:     "start_filing",
	KindDomain:          "domain",
	KindNaturalLanguage: "natural_language",
	KindFallback:        "fallback",
}

// Kinds 返回全部分支。
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// MarshalText 以名称形式编码。
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// fixedVerbs 是固定命令表，别名映射到同一分支。
var fixedVerbs = map[string]Kind{
	"help":            KindHelp,
	"uploadfile":      KindUpload,
	"upload":          KindUpload,
	"download":        KindDownload,
	"wheremyrefund":   KindRefundStatus,
	"refund-status":   KindRefundStatus,
	"refund":          KindRefundStatus,
	"feedback":        KindFeedback,
	"assistance":      KindAssistance,
	"connect-support": KindAssistance,
	"question":        KindQuestion,
	"ask":             KindQuestion,
	"search":          KindSearch,
	"filemytaxes":     KindStartFiling,
	"start-filing":    KindStartFiling,
}
