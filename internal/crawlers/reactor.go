package crawlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
)

// fallbackReactionSelector 旧版Discourse的点赞按钮
const fallbackReactionSelector = ".like"

// errReactionRejected 所有点赞方式都未成功
var errReactionRejected = errors.New("点赞未被接受")

// Reactor 对已打开的主题尝试点赞
// 失败只记录日志,不影响浏览计数
type Reactor struct {
	cfg models.ReactionConfig
}

// NewReactor 创建点赞器
func NewReactor(cfg models.ReactionConfig) *Reactor {
	return &Reactor{cfg: cfg}
}

// actions 按顺序尝试的点赞动作:先点页面按钮,再直接POST
func (r *Reactor) actions(topic models.TopicReference) []models.Action {
	var actions []models.Action

	seen := make(map[string]bool)
	for _, selector := range []string{r.cfg.Selector, fallbackReactionSelector} {
		if selector == "" || seen[selector] {
			continue
		}
		seen[selector] = true
		actions = append(actions, models.Action{Name: "reaction", Selector: selector})
	}

	if r.cfg.Path != "" {
		actions = append(actions, models.Action{
			Name: "reaction",
			URL:  models.JoinPath(topic.URL, r.cfg.Path),
		})
	}
	return actions
}

// React 尝试点赞,返回是否成功
// 点击过程中的panic按点赞失败处理
func (r *Reactor) React(ctx context.Context, page Page, topic models.TopicReference) (ok bool) {
	log := utils.WithTopic(topic.Key, topic.URL)
	defer func() {
		if rec := recover(); rec != nil {
			err := &models.ReactionError{Topic: topic, Cause: fmt.Errorf("点赞panic: %v", rec)}
			log.Warn().Err(err).Msg("点赞失败")
			ok = false
		}
	}()

	for _, action := range r.actions(topic) {
		if ctx.Err() != nil {
			return false
		}
		if page.Submit(ctx, action) {
			log.Info().Msg("👍 点赞成功")
			return true
		}
	}

	err := &models.ReactionError{Topic: topic, Cause: errReactionRejected}
	log.Warn().Err(err).Msg("点赞失败")
	return false
}
