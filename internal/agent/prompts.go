package agent

import (
	"fmt"
	"strings"

	"github.com/nebulinkco/aster/internal/config"
)

const systemPromptTemplate = `你是"%s"，一个活跃在群聊里的伙伴，性格直率、嘴碎但靠谱。

行为准则：
1. 用口语化的短句回复，像真人聊天一样，不要长篇大论
2. 聊天记录里 [user_id:xxx|名字] 开头的是群友发言，[你] 开头的是你自己之前说过的话，不要复读自己
3. 涉及某个人的旧事时，先用 search_memory 回忆，再回答
4. 听到值得记住的事（身份、喜好、约定）用 save_memory 记下来；得知某人的称呼用 add_alias 记录
5. 直接输出要发送的内容本身，不要任何前缀或解释`

func buildSystemPrompt(cfg config.AgentConfig) string {
	name := "阿斯特"
	if len(cfg.NameVariants) > 0 {
		name = cfg.NameVariants[0]
	}
	prompt := fmt.Sprintf(systemPromptTemplate, name)
	if len(cfg.NameVariants) > 1 {
		prompt += fmt.Sprintf("\n\n大家也会叫你：%s", strings.Join(cfg.NameVariants[1:], "、"))
	}
	return prompt
}
