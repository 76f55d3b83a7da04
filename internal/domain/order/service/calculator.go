package service

import (
	"math"
	"sort"

	"marketplace_backend/internal/domain/order/model"
)

// ItemPrice 单行金额计算结果
type ItemPrice struct {
	PriceWithTax       int64 // 税込単価
	TotalPriceWithTax  int64 // 税込単価 × 数量
	ShippingFeeWithTax int64
	Amount             int64 // TotalPriceWithTax + ShippingFeeWithTax
}

// roundHalfUp 四舍五入到整数
func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

// PriceForItem 计算单行金额。
// 先对税込単価取整再乘数量，避免按税前价取整在数量上累积误差。
func PriceForItem(unitPrice int64, quantity int, taxPercent float64, shippingFeeWithTax int64) ItemPrice {
	priceWithTax := roundHalfUp(float64(unitPrice) * (100 + taxPercent) / 100)
	totalPriceWithTax := priceWithTax * int64(quantity)

	return ItemPrice{
		PriceWithTax:       priceWithTax,
		TotalPriceWithTax:  totalPriceWithTax,
		ShippingFeeWithTax: shippingFeeWithTax,
		Amount:             totalPriceWithTax + shippingFeeWithTax,
	}
}

// TransferAmount 计算卖家到账额与平台留存额。
// transfer = round(gross × (100 − gatewayFee% − platformFee%) / 100)，platformFee 取差额保证金额对账。
func TransferAmount(gross int64, gatewayFeePercent, platformFeePercent float64) (transfer int64, platformFee int64) {
	transfer = roundHalfUp(float64(gross) * (100 - gatewayFeePercent - platformFeePercent) / 100)
	return transfer, gross - transfer
}

// EarnedTokens 积分返还额，向下取整
func EarnedTokens(fiatAmount int64, rewardPercent float64) int64 {
	return int64(math.Floor(float64(fiatAmount) * rewardPercent / 100))
}

// AllocateRewards 按比例分摊法币/积分并计算返还。
//
// 行项目可能在不同历史返还率下加入（商品费率中途变更），无法套用单一混合
// 费率。按返还率降序遍历（相同费率保持原顺序），先用法币余额吃掉每行的
// amount 并按该行费率全额返还；法币耗尽后剩余的行全部记到积分余额，
// 积分消费不产生返还。结果确定且对买家有利（高费率行优先享受返还）。
//
// 副作用：写入每行的 FiatAmount / UsedTokens / EarnedTokens；返回返还总额。
func AllocateRewards(details []*model.OrderDetail, fiatBalance int64) int64 {
	idx := make([]int, len(details))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return details[idx[a]].RewardPercent > details[idx[b]].RewardPercent
	})

	remainingFiat := fiatBalance
	var totalEarned int64

	for _, k := range idx {
		d := details[k]
		amount := d.Amount()

		fiatPart := amount
		if fiatPart > remainingFiat {
			fiatPart = remainingFiat
		}

		d.FiatAmount = fiatPart
		d.UsedTokens = amount - fiatPart
		d.EarnedTokens = EarnedTokens(fiatPart, d.RewardPercent)

		totalEarned += d.EarnedTokens
		remainingFiat -= fiatPart
	}

	return totalEarned
}
