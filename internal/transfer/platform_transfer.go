package transfer

type PublishRequest struct {
	Text string `json:"text"`
}

type PublishResponse struct {
	ID string `json:"id"`
}

type PlatformPostList struct {
	Data []PublishResponse `json:"data"`
}

type PlatformMetrics struct {
	Likes       int64 `json:"likes"`
	Reshares    int64 `json:"reshares"`
	Replies     int64 `json:"replies"`
	Impressions int64 `json:"impressions"`
}

type PlatformError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
