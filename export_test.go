package fgaclient

var WithAuthOptions = withAuthOptions
