package streaming

import (
	"regexp"
	"strings"
)

// leadingFillers match polite openers that add nothing to a compact preview.
// They are applied in order, each at most once, to the start of the text.
var leadingFillers = []*regexp.Regexp{
	regexp.MustCompile(`^您提出了一个很好的.*?(问题|建议)[。！？：]\s*`),
	regexp.MustCompile(`^这是一个(非常棒|很好|精彩|不错|有趣)的问题[。！？：]\s*`),
	regexp.MustCompile(`^关于您提到的[^，,]*[，,]?\s*`),
	regexp.MustCompile(`^很高兴为您解答[。！？：]\s*`),
	regexp.MustCompile(`^总结如下[：。]\s*`),
	regexp.MustCompile(`^下面是关于.*?的总结[：。]\s*`),
	regexp.MustCompile(`^(好的|没问题|当然可以|收到了)[。！，]\s*`),
	regexp.MustCompile(`^我[来为给]+您?(详细|简单)?(解答|解读|介绍|分析|总结).*?[：。]\s*`),
	regexp.MustCompile(`^(现在)?让(我|我们)(来)?(为您|给你)?(详细|简单)?(解答|解读|介绍|分析|总结).*?[：。]\s*`),
	regexp.MustCompile(`^那么[，。]\s*`),
	regexp.MustCompile(`^(综上所述|总的来说|总而言之)[，。]\s*`),
	regexp.MustCompile(`^让我们(来)?(一起)?(看看|分析).*?[：。]\s*`),
	regexp.MustCompile(`(?i)^(sure|certainly|of course|absolutely|okay|ok)[!.,]\s*`),
	regexp.MustCompile(`(?i)^(that's|this is|what) an? (great|good|excellent|interesting) question[!.]\s*`),
	regexp.MustCompile(`(?i)^here(’s|'s| is) (a|the) (summary|breakdown|answer)[^:.]*[:.]\s*`),
	regexp.MustCompile(`(?i)^(let me|let's) (explain|break (this|it) down|summari[sz]e)[^:.]*[:.]\s*`),
	regexp.MustCompile(`(?i)^(in summary|to summari[sz]e|overall)[,:]\s*`),
}

// StripFiller removes leading polite filler phrases from an answer
func StripFiller(text string) string {
	result := strings.TrimSpace(text)
	for _, re := range leadingFillers {
		result = re.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}
