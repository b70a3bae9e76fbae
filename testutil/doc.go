// Copyright 2026 GraphRepair Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 GraphRepair 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复构造节点目录、工作流图和网关替身。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 领域数据: Catalog / Graph，基于 fixtures 中的 object_info 与工作流快照
  - 断言工具: AssertNoDanglingEdges / AssertJSONEqual / AssertEventuallyTrue
  - 通道辅助: Collect / WaitForChannel，用于修复事件流测试

# 子包

  - testutil/mocks: 校验网关替身 ScriptedGateway，按脚本依次返回结果或错误，
    并记录每次提交的图
  - testutil/fixtures: object_info 目录快照与若干工作流图（完整、缺连接、参数错误）

# 使用示例

	ctx := testutil.TestContext(t)
	cat := testutil.Catalog(t)
	gw := mocks.NewScriptedGateway().Then(mocks.Pass())
*/
package testutil
