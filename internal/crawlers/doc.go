// Package crawlers 提供会话资源和有上限的主题浏览循环
//
// # 概述
//
// crawlers包把"一个已登录的浏览上下文"抽象为 Session,
// 浏览循环和统计上报只依赖该接口,不关心底层是浏览器还是纯HTTP。
//
// # 会话引擎
//
// ## RodSession
//
// 基于go-rod启动Chromium,列表页和访问页都是独立标签页。
// 每次导航、查询、提交都绑定上下文和超时,通过目标信息探测浏览器是否存活。
//
// ## PlaywrightSession
//
// 基于playwright-go,所有页面共享一个BrowserContext(共享cookie)。
//
// ## HTTPSession
//
// 基于Colly的同步请求,cookie jar保存登录状态,goquery做结构化查询。
// 响应体支持 gzip/deflate/br 解压。纯HTTP无法滚动,Scroll 改为请求 ?page=N。
//
// # SessionFactory
//
// 带有限次重试的会话工厂:
//   - 浏览器引擎在启动前检查 ResourceMonitor
//   - 每次失败都先关闭已构造的部分资源
//   - 重试用尽后返回 *models.ResourceInitError
//
//	factory := NewSessionFactory(cfg.Session, headers, monitor)
//	session, err := factory.Open(ctx, homeURL)
//	defer session.Close()
//
// # TopicCrawler
//
// 浏览循环的状态:
//
//	DISCOVERING -> VISITING -> (REACTING) -> PACING -> VISITING ... -> DONE
//	任意状态 --会话断开--> FAILED_RECOVERABLE --重建--> DISCOVERING
//
// 约束:
//   - 计数只在主题页成功打开后增加,永远不超过 max_visits
//   - 同一主题键只计数一次,重建会话后已访问集合保留
//   - 首次发现为空立即结束; 连续没有新主题时结束,不会空转
//   - 点赞失败只记录日志,不影响计数
//
//	crawler := NewTopicCrawler(cfg.Browse, homeURL, NewReactor(cfg.Reaction), reopen)
//	result, session, err := crawler.Run(ctx, session)
package crawlers
