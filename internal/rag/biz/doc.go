// Package biz 实现问答查询链路：缓存、检索、上下文组装、答案生成及其编排。
//
// 一次查询按固定状态顺序执行，任何后端故障都在链路内部被重试或降级，
// 调用方只会看到参数错误、截止时间超时和过载三类错误。
package biz
