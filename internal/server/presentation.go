package server

import (
	"time"

	"github.com/orbit-social/orbit/internal/follow"
	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/viewstate"
)

const responseTimestampLayout = time.RFC3339

// viewResponse is the wire form of a resolved profile view. A gated view
// carries only the restricted block; the full profile and counters are
// withheld entirely.
type viewResponse struct {
	Handle         string              `json:"handle"`
	IsOwnProfile   bool                `json:"isOwnProfile"`
	Gated          bool                `json:"gated"`
	Profile        *profileResponse    `json:"profile,omitempty"`
	Restricted     *restrictedResponse `json:"restricted,omitempty"`
	Counters       *countersResponse   `json:"counters,omitempty"`
	IsStale        bool                `json:"isStale"`
	FetchFailed    bool                `json:"fetchFailed"`
	TransientError string              `json:"transientError,omitempty"`
}

type profileResponse struct {
	Identity     int64  `json:"identity"`
	Handle       string `json:"handle"`
	DisplayName  string `json:"displayName"`
	Bio          string `json:"bio,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	CoverURL     string `json:"coverUrl,omitempty"`
	Website      string `json:"website,omitempty"`
	Location     string `json:"location,omitempty"`
	BirthDate    string `json:"birthDate,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Visibility   string `json:"visibility"`
	CreatedAt    string `json:"createdAt,omitempty"`
	Placeholder  bool   `json:"placeholder,omitempty"`
	FollowStatus string `json:"followStatus"`
	FollowedBy   bool   `json:"followedBy"`
	CanFollow    bool   `json:"canFollow"`
}

type restrictedResponse struct {
	FollowTarget int64  `json:"followTarget"`
	Handle       string `json:"handle"`
	DisplayName  string `json:"displayName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Label        string `json:"label"`
	Explanation  string `json:"explanation"`
	FollowStatus string `json:"followStatus"`
}

type countersResponse struct {
	Posts           int `json:"posts"`
	Followers       int `json:"followers"`
	Following       int `json:"following"`
	PendingRequests int `json:"pendingRequests"`
}

type requestResponse struct {
	Requester   int64  `json:"requester"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	RequestedAt string `json:"requestedAt,omitempty"`
}

func viewResponseFrom(view viewstate.View, pipeline *follow.Pipeline) viewResponse {
	response := viewResponse{
		Handle:       view.Handle,
		IsOwnProfile: view.IsOwnProfile,
		Gated:        view.Gated,
		IsStale:      view.IsStale,
		FetchFailed:  view.FetchFailed,
	}
	if transient, present := pipeline.CurrentError(); present {
		response.TransientError = transient.Message
	}

	if view.Gated {
		if view.Restricted != nil {
			response.Restricted = &restrictedResponse{
				FollowTarget: int64(view.Restricted.FollowTarget),
				Handle:       view.Restricted.Handle,
				DisplayName:  view.Restricted.DisplayName,
				AvatarURL:    view.Restricted.AvatarURL,
				Label:        view.Restricted.Label,
				Explanation:  view.Restricted.Explanation,
				FollowStatus: string(view.Restricted.FollowStatus),
			}
		}
		return response
	}

	response.Profile = profileResponseFrom(view.Profile)
	counters := countersResponse(view.Counters)
	response.Counters = &counters
	return response
}

func profileResponseFrom(viewed profile.Profile) *profileResponse {
	createdAt := ""
	if !viewed.CreatedAt.IsZero() {
		createdAt = viewed.CreatedAt.Format(responseTimestampLayout)
	}
	return &profileResponse{
		Identity:     int64(viewed.Identity),
		Handle:       viewed.Handle,
		DisplayName:  viewed.DisplayName,
		Bio:          viewed.Bio,
		AvatarURL:    viewed.AvatarURL,
		CoverURL:     viewed.CoverURL,
		Website:      viewed.Website,
		Location:     viewed.Location,
		BirthDate:    viewed.BirthDate,
		Gender:       viewed.Gender,
		Visibility:   string(viewed.Visibility),
		CreatedAt:    createdAt,
		Placeholder:  viewed.Placeholder,
		FollowStatus: string(viewed.FollowStatus),
		FollowedBy:   viewed.FollowedBy,
		CanFollow:    viewed.CanFollow,
	}
}

func requestsResponseFrom(requests []profile.FollowRequest) []requestResponse {
	responses := make([]requestResponse, 0, len(requests))
	for _, request := range requests {
		requestedAt := ""
		if !request.RequestedAt.IsZero() {
			requestedAt = request.RequestedAt.Format(responseTimestampLayout)
		}
		responses = append(responses, requestResponse{
			Requester:   int64(request.Requester),
			Handle:      request.Handle,
			DisplayName: request.DisplayName,
			AvatarURL:   request.AvatarURL,
			RequestedAt: requestedAt,
		})
	}
	return responses
}
